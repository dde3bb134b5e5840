package provider

import (
	"fmt"
	"time"

	"qql-engine/internal/interfaces"
	"qql-engine/internal/provider/providerobs"
	"qql-engine/internal/store"
)

// New builds the configured provider stack: the base source, a TTL
// cache when enabled, and the observability wrapper outermost.
func New(cfg *store.Config) (interfaces.Provider, error) {
	var p interfaces.Provider
	switch cfg.Provider.Mode {
	case "STATIC":
		p = NewStatic()
	case "HTTP":
		p = NewHTTP(cfg.Provider.BaseURL, time.Duration(cfg.Provider.TimeoutSeconds)*time.Second)
	default:
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Provider.Mode)
	}
	if cfg.Provider.CacheTTLSecs > 0 {
		p = WithCache(p, time.Duration(cfg.Provider.CacheTTLSecs)*time.Second)
	}
	return providerobs.Wrap(p), nil
}
