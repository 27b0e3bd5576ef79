package vm

import (
	"math"
	"strconv"
	"strings"
)

// FormatValue renders v for display. Strings print raw at the top level and
// quoted inside arrays and structs. Cyclic arrays and structs print their
// repeated occurrence as "...".
func FormatValue(p *Program, a *Arena, v Value) string {
	var sb strings.Builder
	f := formatter{prog: p, arena: a, sb: &sb}
	f.value(v, false)
	return sb.String()
}

type formatter struct {
	prog  *Program
	arena *Arena
	sb    *strings.Builder
	path  []Value
}

func (f *formatter) value(v Value, nested bool) {
	switch {
	case v.IsInt():
		f.sb.WriteString(strconv.FormatInt(v.Int(), 10))
	case v.IsFloat():
		f.sb.WriteString(formatFloat(v.Float64()))
	case v == True:
		f.sb.WriteString("true")
	case v == False:
		f.sb.WriteString("false")
	case v.IsNil():
		f.sb.WriteString("null")
	case v.IsFunc():
		idx := v.FuncIndex()
		if f.prog != nil && idx < len(f.prog.Functions) {
			fn := f.prog.Functions[idx]
			f.sb.WriteString("<fn " + fn.Name + "/" + strconv.Itoa(fn.Arity) + ">")
		} else {
			f.sb.WriteString("<fn #" + strconv.Itoa(idx) + ">")
		}
	case v.IsRef():
		f.ref(v, nested)
	}
}

func (f *formatter) ref(v Value, nested bool) {
	switch f.arena.KindOf(v) {
	case KindString:
		s, _ := f.arena.String(v)
		if nested {
			s = strconv.Quote(s)
		}
		f.sb.WriteString(s)
	case KindArray:
		if f.cyclic(v) {
			return
		}
		elems, _ := f.arena.Elements(v)
		f.sb.WriteByte('[')
		for i, e := range elems {
			if i > 0 {
				f.sb.WriteString(", ")
			}
			f.value(e, true)
		}
		f.sb.WriteByte(']')
		f.path = f.path[:len(f.path)-1]
	case KindStruct:
		if f.cyclic(v) {
			return
		}
		idx, _ := f.arena.StructLayout(v)
		fields, _ := f.arena.Elements(v)
		var layout *StructLayout
		if f.prog != nil && idx < len(f.prog.Structs) {
			layout = f.prog.Structs[idx]
		}
		if layout == nil {
			f.sb.WriteString("<struct>")
			f.path = f.path[:len(f.path)-1]
			return
		}
		f.sb.WriteString(layout.Name)
		f.sb.WriteString(" {")
		for i, val := range fields {
			if i > 0 {
				f.sb.WriteByte(',')
			}
			f.sb.WriteString(" " + layout.Fields[i] + ": ")
			f.value(val, true)
		}
		if len(fields) > 0 {
			f.sb.WriteByte(' ')
		}
		f.sb.WriteByte('}')
		f.path = f.path[:len(f.path)-1]
	default:
		f.sb.WriteString("<stale reference>")
	}
}

// cyclic reports whether v is already being printed, and otherwise pushes
// it onto the path. Callers pop after printing.
func (f *formatter) cyclic(v Value) bool {
	for _, seen := range f.path {
		if seen == v {
			f.sb.WriteString("...")
			return true
		}
	}
	f.path = append(f.path, v)
	return false
}

// formatFloat prints the shortest representation that round-trips, always
// marked as a float.
func formatFloat(x float64) string {
	switch {
	case math.IsNaN(x):
		return "nan"
	case math.IsInf(x, 1):
		return "inf"
	case math.IsInf(x, -1):
		return "-inf"
	}
	var s string
	if abs := math.Abs(x); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		s = strconv.FormatFloat(x, 'g', -1, 64)
	} else {
		s = strconv.FormatFloat(x, 'f', -1, 64)
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
