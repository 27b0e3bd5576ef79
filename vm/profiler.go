package vm

import (
	"cmp"
	"fmt"
	"io"
	"slices"
)

// Profiler counts function invocations and dispatched opcodes for one run.
// It belongs to a single Machine and is not safe for concurrent use.
type Profiler struct {
	// HotThreshold is the invocation count at which a function is
	// reported as hot.
	HotThreshold uint64

	calls map[*Function]uint64
	ops   [256]uint64
	hot   int
}

// FunctionProfile is the invocation count of one function.
type FunctionProfile struct {
	Name  string
	Calls uint64
	Hot   bool
}

// OpProfile is the dispatch count of one opcode.
type OpProfile struct {
	Op    Opcode
	Count uint64
}

// DefaultHotThreshold is the invocation count that marks a function hot.
const DefaultHotThreshold = 100

// NewProfiler creates a profiler with the default hot threshold.
func NewProfiler() *Profiler {
	return &Profiler{
		HotThreshold: DefaultHotThreshold,
		calls:        make(map[*Function]uint64),
	}
}

// RecordCall counts an invocation of fn. It returns true when this call
// made fn hot.
func (p *Profiler) RecordCall(fn *Function) bool {
	n := p.calls[fn] + 1
	p.calls[fn] = n
	if n == p.HotThreshold {
		p.hot++
		return true
	}
	return false
}

// RecordOp counts one dispatch of op.
func (p *Profiler) RecordOp(op Opcode) {
	p.ops[op]++
}

// Calls returns how many times fn was invoked.
func (p *Profiler) Calls(fn *Function) uint64 { return p.calls[fn] }

// HotCount returns the number of functions past the hot threshold.
func (p *Profiler) HotCount() int { return p.hot }

// TopFunctions returns up to n functions by descending call count. Ties
// order by name. n <= 0 returns all of them.
func (p *Profiler) TopFunctions(n int) []FunctionProfile {
	out := make([]FunctionProfile, 0, len(p.calls))
	for fn, c := range p.calls {
		out = append(out, FunctionProfile{Name: fn.Name, Calls: c, Hot: c >= p.HotThreshold})
	}
	slices.SortFunc(out, func(a, b FunctionProfile) int {
		if c := cmp.Compare(b.Calls, a.Calls); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TopOps returns up to n executed opcodes by descending count.
func (p *Profiler) TopOps(n int) []OpProfile {
	var out []OpProfile
	for op, c := range p.ops {
		if c > 0 {
			out = append(out, OpProfile{Op: Opcode(op), Count: c})
		}
	}
	slices.SortStableFunc(out, func(a, b OpProfile) int {
		return cmp.Compare(b.Count, a.Count)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Reset clears all counts.
func (p *Profiler) Reset() {
	clear(p.calls)
	p.ops = [256]uint64{}
	p.hot = 0
}

// WriteReport prints the n hottest functions and opcodes.
func (p *Profiler) WriteReport(w io.Writer, n int) error {
	if _, err := fmt.Fprintln(w, "calls:"); err != nil {
		return err
	}
	for _, f := range p.TopFunctions(n) {
		mark := ""
		if f.Hot {
			mark = " (hot)"
		}
		if _, err := fmt.Fprintf(w, "  %10d  %s%s\n", f.Calls, f.Name, mark); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, "opcodes:"); err != nil {
		return err
	}
	for _, o := range p.TopOps(n) {
		if _, err := fmt.Fprintf(w, "  %10d  %s\n", o.Count, o.Op); err != nil {
			return err
		}
	}
	return nil
}
