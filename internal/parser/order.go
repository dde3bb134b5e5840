package parser

import (
	"fmt"
	"strconv"
	"strings"

	"qql-engine/internal/lexer"
)

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// isNumericLiteral reports whether a calc input is a number rather than a
// column reference. Letters other than an exponent marker disqualify it.
func isNumericLiteral(s string) bool {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if s == "" {
		return false
	}
	for _, c := range s {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			if c != 'e' && c != 'E' {
				return false
			}
		}
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// calcOutputs lists the column names a calc produces. Volatility ops also
// emit the band columns; a difference over more than two inputs emits one
// suffixed column per consecutive pair instead of the bare alias.
func calcOutputs(c Calc) []string {
	switch c.Operation {
	case lexer.KwVolatility, lexer.KwDoubleVolatility:
		return []string{c.Alias, c.Alias + "_pos", c.Alias + "_neg"}
	case lexer.KwDifference:
		if len(c.Inputs) > 2 {
			outs := make([]string, 0, len(c.Inputs)-1)
			for i := 0; i+1 < len(c.Inputs); i++ {
				outs = append(outs, fmt.Sprintf("%s_%d", c.Alias, i))
			}
			return outs
		}
		return []string{c.Alias}
	default:
		return []string{c.Alias}
	}
}

// orderCalcsByWaves groups calcs into dependency waves: a calc is runnable
// once every input is a pulled field, a numeric literal, or an output of
// an earlier wave. If the remaining calcs stall (unknown inputs) they are
// appended as a final wave rather than rejected. Duplicate aliases are an
// error.
func orderCalcsByWaves(fields []string, calcs []Calc) ([][]Calc, *ParseError) {
	seen := make(map[string]bool, len(calcs))
	for _, c := range calcs {
		if seen[c.Alias] {
			return nil, &ParseError{Message: fmt.Sprintf("duplicate CALC alias: %q", c.Alias)}
		}
		seen[c.Alias] = true
	}

	available := make(map[string]bool, len(fields))
	for _, f := range fields {
		available[f] = true
	}

	var waves [][]Calc
	remaining := calcs
	for len(remaining) > 0 {
		var runnable, blocked []Calc
		for _, c := range remaining {
			ok := true
			for _, inp := range c.Inputs {
				if !available[inp] && !isNumericLiteral(inp) {
					ok = false
					break
				}
			}
			if ok {
				runnable = append(runnable, c)
			} else {
				blocked = append(blocked, c)
			}
		}

		if len(runnable) == 0 {
			waves = append(waves, blocked)
			break
		}
		for _, c := range runnable {
			for _, out := range calcOutputs(c) {
				available[out] = true
			}
		}
		waves = append(waves, runnable)
		remaining = blocked
	}
	return waves, nil
}

func orderCalcsFlat(fields []string, calcs []Calc) ([]Calc, *ParseError) {
	waves, err := orderCalcsByWaves(fields, calcs)
	if err != nil {
		return nil, err
	}
	var flat []Calc
	for _, w := range waves {
		flat = append(flat, w...)
	}
	return flat, nil
}
