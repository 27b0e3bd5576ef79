package vm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WireVersion is bumped whenever the persisted program layout or the
// instruction set changes meaning.
const WireVersion = 1

const wireMagic = "SYNB"

// ErrWireVersion reports a persisted program from another format version.
var ErrWireVersion = errors.New("vm: unsupported program version")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireProgram struct {
	Magic     string         `cbor:"1,keyasint"`
	Version   int            `cbor:"2,keyasint"`
	Entry     int            `cbor:"3,keyasint"`
	Constants []wireConstant `cbor:"4,keyasint"`
	Functions []wireFunction `cbor:"5,keyasint"`
	Structs   []wireStruct   `cbor:"6,keyasint"`
}

type wireConstant struct {
	_     struct{} `cbor:",toarray"`
	Kind  ConstKind
	Int   int64
	Float float64
	Str   string
}

type wireFunction struct {
	Name      string            `cbor:"1,keyasint"`
	Arity     int               `cbor:"2,keyasint"`
	NumLocals int               `cbor:"3,keyasint"`
	Code      []wireInstruction `cbor:"4,keyasint"`
	Lines     []int32           `cbor:"5,keyasint,omitempty"`
}

type wireInstruction struct {
	_   struct{} `cbor:",toarray"`
	Op  Opcode
	Arg int32
}

type wireStruct struct {
	Name    string         `cbor:"1,keyasint"`
	Fields  []string       `cbor:"2,keyasint"`
	Methods map[string]int `cbor:"3,keyasint,omitempty"`
}

// MarshalProgram serializes a program to canonical CBOR, so equal programs
// always encode to equal bytes.
func MarshalProgram(p *Program) ([]byte, error) {
	w := wireProgram{Magic: wireMagic, Version: WireVersion, Entry: p.Entry}
	for _, c := range p.Constants {
		w.Constants = append(w.Constants, wireConstant{Kind: c.Kind, Int: c.Int, Float: c.Float, Str: c.Str})
	}
	for _, fn := range p.Functions {
		wf := wireFunction{Name: fn.Name, Arity: fn.Arity, NumLocals: fn.NumLocals, Lines: fn.Lines}
		wf.Code = make([]wireInstruction, len(fn.Code))
		for i, ins := range fn.Code {
			wf.Code[i] = wireInstruction{Op: ins.Op, Arg: ins.Arg}
		}
		w.Functions = append(w.Functions, wf)
	}
	for _, s := range p.Structs {
		w.Structs = append(w.Structs, wireStruct{Name: s.Name, Fields: s.Fields, Methods: s.Methods})
	}
	data, err := cborEncMode.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("vm: marshal program: %w", err)
	}
	return data, nil
}

// UnmarshalProgram decodes and validates a program. A program that fails
// validation is never returned.
func UnmarshalProgram(data []byte) (*Program, error) {
	var w wireProgram
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("vm: unmarshal program: %w", err)
	}
	if w.Magic != wireMagic {
		return nil, fmt.Errorf("vm: unmarshal program: bad magic %q", w.Magic)
	}
	if w.Version != WireVersion {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrWireVersion, w.Version, WireVersion)
	}
	p := &Program{Entry: w.Entry}
	for _, c := range w.Constants {
		p.Constants = append(p.Constants, Constant{Kind: c.Kind, Int: c.Int, Float: c.Float, Str: c.Str})
	}
	for _, wf := range w.Functions {
		fn := &Function{Name: wf.Name, Arity: wf.Arity, NumLocals: wf.NumLocals, Lines: wf.Lines}
		fn.Code = make([]Instruction, len(wf.Code))
		for i, ins := range wf.Code {
			fn.Code[i] = Instruction{Op: ins.Op, Arg: ins.Arg}
		}
		p.Functions = append(p.Functions, fn)
	}
	for _, ws := range w.Structs {
		methods := ws.Methods
		if methods == nil {
			methods = make(map[string]int)
		}
		p.Structs = append(p.Structs, &StructLayout{Name: ws.Name, Fields: ws.Fields, Methods: methods})
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("vm: unmarshal program: %w", err)
	}
	return p, nil
}
