// Package compute executes declarative kernel pipelines over typed
// column buffers. Steps describe inputs, outputs, and dispatch shape;
// the runtime owns buffer creation, a versioned kernel-module cache, and
// workgroup scheduling. Execution is synchronous: RunPipeline returns
// only after every workgroup of every step has completed.
package compute

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"qql-engine/internal/frame"
)

// DType is a device buffer element type.
type DType int

const (
	F32 DType = iota
	I32
	U32
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case I32:
		return "i32"
	case U32:
		return "u32"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// Buffer is a typed column buffer. Exactly one backing slice is non-nil.
type Buffer struct {
	DType DType
	F32s  []float32
	I32s  []int32
	U32s  []uint32
}

func newBuffer(dt DType, n int) *Buffer {
	b := &Buffer{DType: dt}
	switch dt {
	case F32:
		b.F32s = make([]float32, n)
	case I32:
		b.I32s = make([]int32, n)
	case U32:
		b.U32s = make([]uint32, n)
	}
	return b
}

func (b *Buffer) Len() int {
	switch b.DType {
	case F32:
		return len(b.F32s)
	case I32:
		return len(b.I32s)
	default:
		return len(b.U32s)
	}
}

// Column is a named buffer inside a Table. Len can differ from the
// table's row count (scalar reduction outputs are length 1).
type Column struct {
	Name  string
	DType DType
	Len   int
	Buf   *Buffer
}

// Table owns the buffers for one execution pass. Columns are appended
// for the duration of a calc pipeline, never removed.
type Table struct {
	columns  map[string]*Column
	rowCount int
}

func NewTable(rowCount int) *Table {
	return &Table{columns: make(map[string]*Column), rowCount: rowCount}
}

func (t *Table) RowCount() int { return t.rowCount }

func (t *Table) Get(name string) (*Column, error) {
	c, ok := t.columns[name]
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	return c, nil
}

func (t *Table) Has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// OutputSpec declares one step output. Len 0 means row-shaped (the
// table's row count); scalars use Len 1.
type OutputSpec struct {
	Name  string
	DType DType
	Len   int
}

func ColumnOut(name string, dt DType) OutputSpec { return OutputSpec{Name: name, DType: dt} }
func ScalarOut(name string, dt DType) OutputSpec { return OutputSpec{Name: name, DType: dt, Len: 1} }
func OutWithLen(name string, dt DType, n int) OutputSpec {
	return OutputSpec{Name: name, DType: dt, Len: n}
}

// Invocation is the view one kernel invocation gets: its global id, the
// bound buffers (inputs read-only by contract), and the uniform block.
type Invocation struct {
	GlobalID uint32
	NumRows  uint32
	Inputs   []*Buffer
	Outputs  []*Buffer
	Uniform  []byte

	mu *sync.Mutex
}

// AtomicAddF32 adds v to out.F32s[idx] atomically across the dispatch,
// for single-pass reductions.
func (inv *Invocation) AtomicAddF32(out *Buffer, idx int, v float32) {
	inv.mu.Lock()
	out.F32s[idx] += v
	inv.mu.Unlock()
}

// Kernel is one entry point of a Program.
type Kernel func(inv *Invocation)

// Program is a compiled kernel module: named entry points plus a version
// that scopes its cache key.
type Program struct {
	Name    string
	Version string
	Entries map[string]Kernel
}

// KernelStep declares one dispatch: which module, which entry point,
// which columns it reads and writes, and its dispatch shape. Source may
// be nil when the key is already cached.
type KernelStep struct {
	ShaderKey          string
	Source             *Program
	EntryPoint         string
	Inputs             []string
	Outputs            []OutputSpec
	WorkgroupSize      uint32
	ElemsPerInvocation uint32
	Uniform            []byte
}

// Runtime owns the kernel-module cache. The cache is append-only for the
// process lifetime; a key is never recompiled. Registering a different
// program version under an existing key is an error rather than being
// silently served from cache.
type Runtime struct {
	modules map[string]*Program
}

func NewRuntime() *Runtime {
	return &Runtime{modules: make(map[string]*Program)}
}

func (r *Runtime) ensureProgram(key string, src *Program) (*Program, error) {
	if cached, ok := r.modules[key]; ok {
		if src != nil && (cached.Name != src.Name || cached.Version != src.Version) {
			return nil, fmt.Errorf(
				"kernel cache collision for key %q: cached %s@%s, step carries %s@%s",
				key, cached.Name, cached.Version, src.Name, src.Version)
		}
		return cached, nil
	}
	if src == nil {
		return nil, fmt.Errorf("kernel %q not found and no source provided", key)
	}
	r.modules[key] = src
	return src, nil
}

// Upload converts the named numeric columns of df into a Table. Only
// f32/i32/u32 columns transfer; anything else is skipped. Nulls become
// the dtype's sentinel (NaN for f32, 0 for the integer kinds) so
// positional alignment with the row index is preserved.
func (r *Runtime) Upload(df *frame.DataFrame, columns []string) (*Table, error) {
	names := columns
	if names == nil {
		names = df.Names()
	}
	table := NewTable(df.Height())
	for _, name := range names {
		s, err := df.Column(name)
		if err != nil {
			continue
		}
		var buf *Buffer
		switch s.DType {
		case frame.F32:
			buf = newBuffer(F32, s.Len())
			for i := range buf.F32s {
				if s.IsValidAt(i) {
					buf.F32s[i] = float32(s.Float[i])
				} else {
					buf.F32s[i] = float32(math.NaN())
				}
			}
		case frame.I32:
			buf = newBuffer(I32, s.Len())
			for i := range buf.I32s {
				if s.IsValidAt(i) {
					buf.I32s[i] = int32(s.Int[i])
				}
			}
		case frame.U32:
			buf = newBuffer(U32, s.Len())
			for i := range buf.U32s {
				if s.IsValidAt(i) {
					buf.U32s[i] = uint32(s.Int[i])
				}
			}
		default:
			continue
		}
		table.columns[name] = &Column{Name: name, DType: buf.DType, Len: buf.Len(), Buf: buf}
	}
	return table, nil
}

// RunPipeline executes steps in order against the table and returns the
// names of the output columns it created. Each step blocks until every
// workgroup has finished before the next step starts.
func (r *Runtime) RunPipeline(table *Table, steps []KernelStep) ([]string, error) {
	var created []string

	for _, step := range steps {
		prog, err := r.ensureProgram(step.ShaderKey, step.Source)
		if err != nil {
			return nil, err
		}
		kern, ok := prog.Entries[step.EntryPoint]
		if !ok {
			return nil, fmt.Errorf("kernel %q has no entry point %q", step.ShaderKey, step.EntryPoint)
		}

		outputs := make([]*Buffer, 0, len(step.Outputs))
		for _, out := range step.Outputs {
			length := out.Len
			if length == 0 {
				length = table.rowCount
			}
			if existing, ok := table.columns[out.Name]; ok {
				if existing.Len != length {
					return nil, fmt.Errorf(
						"output %q exists with len %d but step expects len %d",
						out.Name, existing.Len, length)
				}
				outputs = append(outputs, existing.Buf)
				continue
			}
			buf := newBuffer(out.DType, length)
			table.columns[out.Name] = &Column{Name: out.Name, DType: out.DType, Len: length, Buf: buf}
			outputs = append(outputs, buf)
			created = append(created, out.Name)
		}

		inputs := make([]*Buffer, 0, len(step.Inputs))
		for _, name := range step.Inputs {
			col, err := table.Get(name)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, col.Buf)
		}

		// Generator steps (no inputs) dispatch a single invocation and
		// loop over their outputs internally.
		total := uint32(1)
		if len(step.Inputs) > 0 {
			total = uint32(table.rowCount)
		}
		elems := step.ElemsPerInvocation
		if elems == 0 {
			elems = 1
		}
		workgroup := step.WorkgroupSize
		if workgroup == 0 {
			workgroup = 1
		}
		invocations := (total + elems - 1) / elems
		groups := (invocations + workgroup - 1) / workgroup
		if groups == 0 {
			groups = 1
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		for g := uint32(0); g < groups; g++ {
			wg.Add(1)
			go func(g uint32) {
				defer wg.Done()
				for local := uint32(0); local < workgroup; local++ {
					gid := g*workgroup + local
					if gid >= invocations {
						return
					}
					kern(&Invocation{
						GlobalID: gid,
						NumRows:  uint32(table.rowCount),
						Inputs:   inputs,
						Outputs:  outputs,
						Uniform:  step.Uniform,
						mu:       &mu,
					})
				}
			}(g)
		}
		wg.Wait()
	}
	return created, nil
}

// DownloadAppend copies a row-shaped output column back into df. The
// column length must equal the frame height; scalars and other shapes
// are rejected to prevent silent misalignment.
func (r *Runtime) DownloadAppend(df *frame.DataFrame, table *Table, name string) error {
	col, err := table.Get(name)
	if err != nil {
		return err
	}
	if col.Len != df.Height() {
		return fmt.Errorf("download expects column of len %d, got %d for %q",
			df.Height(), col.Len, name)
	}
	var s *frame.Series
	switch col.DType {
	case F32:
		s = frame.NewF32(name, col.Buf.F32s)
	case I32:
		vals := make([]int64, col.Len)
		for i, v := range col.Buf.I32s {
			vals[i] = int64(v)
		}
		s = &frame.Series{Name: name, DType: frame.I32, Int: vals}
	case U32:
		vals := make([]int64, col.Len)
		for i, v := range col.Buf.U32s {
			vals[i] = int64(v)
		}
		s = &frame.Series{Name: name, DType: frame.U32, Int: vals}
	}
	return df.HStack(s)
}

// DownloadScalar reads a length-1 f32 reduction output.
func (r *Runtime) DownloadScalar(table *Table, name string) (float32, error) {
	col, err := table.Get(name)
	if err != nil {
		return 0, err
	}
	if col.DType != F32 || col.Len != 1 {
		return 0, fmt.Errorf("scalar download expects f32 scalar; %q has dtype %s len %d",
			name, col.DType, col.Len)
	}
	return col.Buf.F32s[0], nil
}

/* -------------------------- uniform helpers -------------------------- */

// UniformF32 packs float32 values into a little-endian uniform block.
func UniformF32(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// UniformU32 packs uint32 values into a little-endian uniform block.
func UniformU32(vals ...uint32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func uniformF32At(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
}

func uniformU32At(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[4*i:])
}
