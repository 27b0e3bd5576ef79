package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of every function in p.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	if len(p.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range p.Constants {
			display := c.String()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			fmt.Fprintf(&sb, ";   [%3d] %s\n", i, display)
		}
		sb.WriteString("\n")
	}
	for _, s := range p.Structs {
		fmt.Fprintf(&sb, "; struct %s { %s }\n", s.Name, strings.Join(s.Fields, ", "))
	}
	if len(p.Structs) > 0 {
		sb.WriteString("\n")
	}
	for i, fn := range p.Functions {
		if i > 0 {
			sb.WriteString("\n")
		}
		marker := ""
		if i == p.Entry {
			marker = " (entry)"
		}
		fmt.Fprintf(&sb, "; === %s/%d%s ===\n", fn.Name, fn.Arity, marker)
		fmt.Fprintf(&sb, "; Locals: %d slots\n", fn.NumLocals)
		for _, line := range p.DisassembleFunction(fn) {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// DisassembleFunction returns one line per instruction of fn.
func (p *Program) DisassembleFunction(fn *Function) []string {
	lines := make([]string, 0, len(fn.Code))
	prevLine := int32(-1)
	for ip := range fn.Code {
		src := "   |"
		if ip < len(fn.Lines) && fn.Lines[ip] != prevLine {
			prevLine = fn.Lines[ip]
			src = fmt.Sprintf("%4d", prevLine)
		}
		lines = append(lines, fmt.Sprintf("%04d %s  %s", ip, src, p.DisassembleInstruction(fn, ip)))
	}
	return lines
}

// DisassembleInstruction renders the instruction at ip with its operand
// resolved against the program.
func (p *Program) DisassembleInstruction(fn *Function, ip int) string {
	ins := fn.Code[ip]
	info := GetOpcodeInfo(ins.Op)
	arg := int(ins.Arg)
	var operand string
	switch info.Operand {
	case OperandNone:
		return info.Name
	case OperandConst, OperandName:
		operand = fmt.Sprintf("%d", arg)
		if arg >= 0 && arg < len(p.Constants) {
			operand += " (" + p.Constants[arg].String() + ")"
		}
	case OperandFunc:
		operand = fmt.Sprintf("%d", arg)
		if arg >= 0 && arg < len(p.Functions) {
			operand += " (" + p.Functions[arg].Name + ")"
		}
	case OperandStruct:
		operand = fmt.Sprintf("%d", arg)
		if arg >= 0 && arg < len(p.Structs) {
			operand += " (" + p.Structs[arg].Name + ")"
		}
	case OperandJump:
		operand = fmt.Sprintf("%+d (-> %04d)", arg, ip+1+arg)
	case OperandInvoke:
		name, argc := UnpackInvoke(ins.Arg)
		operand = fmt.Sprintf("%d argc=%d", name, argc)
		if name >= 0 && name < len(p.Constants) {
			operand = fmt.Sprintf("%s argc=%d", p.Constants[name].String(), argc)
		}
	default:
		operand = fmt.Sprintf("%d", arg)
	}
	return fmt.Sprintf("%-14s %s", info.Name, operand)
}
