package compiler

import (
	"github.com/chazu/synapse/vm"
)

// ScriptName is the name of the function holding the top-level statements.
const ScriptName = "<script>"

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Compile compiles source text into a validated program. On any error the
// program is nil and the error is a *LexError or a *CompileError.
func Compile(src string) (*vm.Program, error) {
	file, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return CompileFile(file)
}

// CompileFile generates code for an already parsed file.
func CompileFile(file *File) (prog *vm.Program, err error) {
	c := newCodegen()
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			prog, err = nil, c.err
		}
	}()

	c.declare(file)
	c.compileScript(file)
	for _, fn := range c.order {
		c.compileFunction(fn)
	}

	prog, err = c.pb.Build()
	if err != nil {
		return nil, &CompileError{Kind: ErrInvalidJump, Msg: err.Error()}
	}
	return prog, nil
}

// ---------------------------------------------------------------------------
// Code generator state
// ---------------------------------------------------------------------------

type funcEntry struct {
	index int
	decl  *FnDecl
	fb    *vm.FunctionBuilder
}

type structEntry struct {
	index   int
	decl    *StructDecl
	fields  map[string]int
	methods map[string]bool
}

type loopLabels struct {
	brk  *vm.Label
	cont *vm.Label
}

type codegen struct {
	pb      *vm.ProgramBuilder
	script  *vm.FunctionBuilder
	funcs   map[string]*funcEntry
	structs map[string]*structEntry
	order   []*funcEntry // top-level functions, then methods
	err     error

	// Per-function state.
	fb       *vm.FunctionBuilder
	locals   *locals
	loops    []loopLabels
	inScript bool
	result   int // slot holding the script's last expression value
}

func newCodegen() *codegen {
	pb := vm.NewProgramBuilder()
	entry, script := pb.AddFunction(ScriptName, 0)
	pb.SetEntry(entry)
	return &codegen{
		pb:      pb,
		script:  script,
		funcs:   make(map[string]*funcEntry),
		structs: make(map[string]*structEntry),
	}
}

func (c *codegen) failf(kind ErrorKind, span Span, format string, args ...any) {
	c.err = compileErrorf(kind, span, format, args...)
	panic(bailout{})
}

func (c *codegen) emit(n Node, op vm.Opcode, arg int) int {
	c.fb.SetLine(n.Span().Start.Line)
	return c.fb.Emit(op, arg)
}

func (c *codegen) emitJump(n Node, op vm.Opcode, l *vm.Label) {
	c.fb.SetLine(n.Span().Start.Line)
	c.fb.EmitJump(op, l)
}

// ---------------------------------------------------------------------------
// Declarations (hoisted)
// ---------------------------------------------------------------------------

// declare registers every struct, function and method before any code is
// generated, so declaration order in the file does not matter.
func (c *codegen) declare(file *File) {
	for _, s := range file.Structs {
		c.checkTopLevelName(s.Name)
		entry := &structEntry{decl: s, fields: make(map[string]int), methods: make(map[string]bool)}
		names := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			if _, dup := entry.fields[f.Name]; dup {
				c.failf(ErrDuplicateBinding, f.SpanVal, "field %s declared twice in struct %s", f.Name, s.Name.Name)
			}
			entry.fields[f.Name] = i
			names[i] = f.Name
		}
		entry.index = c.pb.AddStruct(s.Name.Name, names)
		c.structs[s.Name.Name] = entry
	}

	for _, fn := range file.Funcs {
		c.checkTopLevelName(fn.Name)
		if fn.Name.Name == "main" && len(fn.Params) != 0 {
			c.failf(ErrArityMismatch, fn.Name.SpanVal, "main must take no parameters, has %d", len(fn.Params))
		}
		idx, fb := c.pb.AddFunction(fn.Name.Name, len(fn.Params))
		entry := &funcEntry{index: idx, decl: fn, fb: fb}
		c.funcs[fn.Name.Name] = entry
		c.order = append(c.order, entry)
	}

	for _, impl := range file.Impls {
		s, ok := c.structs[impl.Name.Name]
		if !ok {
			c.failf(ErrUnresolvedName, impl.Name.SpanVal, "impl for undeclared struct %s", impl.Name.Name)
		}
		for _, m := range impl.Methods {
			if len(m.Params) == 0 {
				c.failf(ErrArityMismatch, m.Name.SpanVal, "method %s.%s needs a receiver parameter", impl.Name.Name, m.Name.Name)
			}
			if s.methods[m.Name.Name] {
				c.failf(ErrDuplicateBinding, m.Name.SpanVal, "method %s.%s declared twice", impl.Name.Name, m.Name.Name)
			}
			s.methods[m.Name.Name] = true
			idx, fb := c.pb.AddFunction(impl.Name.Name+"."+m.Name.Name, len(m.Params))
			c.pb.AddMethod(s.index, m.Name.Name, idx)
			c.order = append(c.order, &funcEntry{index: idx, decl: m, fb: fb})
		}
	}
}

func (c *codegen) checkTopLevelName(n Name) {
	if n.Name == "len" {
		c.failf(ErrDuplicateBinding, n.SpanVal, "cannot redeclare built-in len")
	}
	_, isFunc := c.funcs[n.Name]
	_, isStruct := c.structs[n.Name]
	if isFunc || isStruct {
		c.failf(ErrDuplicateBinding, n.SpanVal, "%s redeclared at top level", n.Name)
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// compileScript emits the entry function. Its result is an executed
// top-level return, else main(), else the last top-level expression value.
func (c *codegen) compileScript(file *File) {
	c.begin(c.script, true)
	c.result = c.locals.temp()
	for _, s := range file.Stmts {
		c.stmt(s)
	}
	end := &NullLit{SpanVal: Span{Start: file.SpanVal.End, End: file.SpanVal.End}}
	if main, ok := c.funcs["main"]; ok {
		c.emit(end, vm.OpFunc, main.index)
		c.emit(end, vm.OpCall, 0)
	} else {
		c.emit(end, vm.OpLoadLocal, c.result)
	}
	c.emit(end, vm.OpHalt, 0)
	c.finish(end)
}

func (c *codegen) compileFunction(fn *funcEntry) {
	c.begin(fn.fb, false)
	for _, p := range fn.decl.Params {
		c.declareLocal(p, "parameter")
	}
	// The body shares the parameters' scope.
	for _, s := range fn.decl.Body.Stmts {
		c.stmt(s)
	}
	end := &NullLit{SpanVal: Span{Start: fn.decl.Body.SpanVal.End, End: fn.decl.Body.SpanVal.End}}
	c.emit(end, vm.OpNil, 0)
	c.emit(end, vm.OpReturn, 0)
	c.finish(end)
}

func (c *codegen) begin(fb *vm.FunctionBuilder, script bool) {
	c.fb = fb
	c.locals = newLocals()
	c.locals.push()
	c.loops = nil
	c.inScript = script
}

func (c *codegen) finish(end Node) {
	if c.locals.high > maxLocals {
		c.failf(ErrTooLarge, end.Span(), "function needs %d locals, limit is %d", c.locals.high, maxLocals)
	}
	c.fb.SetNumLocals(c.locals.high)
}

func (c *codegen) declareLocal(n Name, what string) int {
	if n.Name == "len" {
		c.failf(ErrDuplicateBinding, n.SpanVal, "cannot rebind built-in len")
	}
	slot, ok := c.locals.declare(n.Name)
	if !ok {
		c.failf(ErrDuplicateBinding, n.SpanVal, "%s %s already declared in this scope", what, n.Name)
	}
	return slot
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *codegen) stmt(s Stmt) {
	switch s := s.(type) {
	case *LetStmt:
		if s.Value != nil {
			c.expr(s.Value)
		} else {
			c.emit(s, vm.OpNil, 0)
		}
		// Declared after the initializer, so `let x = x;` reads an outer x.
		slot := c.declareLocal(s.Name, "variable")
		c.emit(s, vm.OpStoreLocal, slot)
		c.emit(s, vm.OpPop, 0)

	case *PrintStmt:
		c.expr(s.Value)
		c.emit(s, vm.OpPrint, 0)

	case *ReturnStmt:
		if s.Value != nil {
			c.expr(s.Value)
		} else {
			c.emit(s, vm.OpNil, 0)
		}
		c.emit(s, vm.OpReturn, 0)

	case *IfStmt:
		elseLabel := c.fb.NewLabel()
		c.expr(s.Cond)
		c.emitJump(s, vm.OpJumpIfFalse, elseLabel)
		c.scoped(s.Then)
		if s.Else == nil {
			c.fb.Mark(elseLabel)
			return
		}
		endLabel := c.fb.NewLabel()
		c.emitJump(s, vm.OpJump, endLabel)
		c.fb.Mark(elseLabel)
		c.scoped(s.Else)
		c.fb.Mark(endLabel)

	case *WhileStmt:
		loop := loopLabels{brk: c.fb.NewLabel(), cont: c.fb.NewLabel()}
		c.fb.Mark(loop.cont)
		c.expr(s.Cond)
		c.emitJump(s, vm.OpJumpIfFalse, loop.brk)
		c.loopBody(loop, s.Body)
		c.emitJump(s, vm.OpJump, loop.cont)
		c.fb.Mark(loop.brk)

	case *ForStmt:
		c.locals.push()
		if s.Init != nil {
			c.forInit(s.Init)
		}
		top := c.fb.NewLabel()
		loop := loopLabels{brk: c.fb.NewLabel(), cont: c.fb.NewLabel()}
		c.fb.Mark(top)
		if s.Cond != nil {
			c.expr(s.Cond)
			c.emitJump(s, vm.OpJumpIfFalse, loop.brk)
		}
		c.loopBody(loop, s.Body)
		c.fb.Mark(loop.cont)
		if s.Post != nil {
			c.expr(s.Post)
			c.emit(s.Post, vm.OpPop, 0)
		}
		c.emitJump(s, vm.OpJump, top)
		c.fb.Mark(loop.brk)
		c.locals.pop()

	case *BreakStmt:
		if len(c.loops) == 0 {
			c.failf(ErrSyntax, s.SpanVal, "break outside of a loop")
		}
		c.emitJump(s, vm.OpJump, c.loops[len(c.loops)-1].brk)

	case *ContinueStmt:
		if len(c.loops) == 0 {
			c.failf(ErrSyntax, s.SpanVal, "continue outside of a loop")
		}
		c.emitJump(s, vm.OpJump, c.loops[len(c.loops)-1].cont)

	case *BlockStmt:
		c.locals.push()
		for _, inner := range s.Stmts {
			c.stmt(inner)
		}
		c.locals.pop()

	case *ExprStmt:
		c.expr(s.X)
		if _, assign := s.X.(*AssignExpr); c.inScript && !assign {
			c.emit(s, vm.OpStoreLocal, c.result)
		}
		c.emit(s, vm.OpPop, 0)
	}
}

// scoped compiles the branch of an if in its own scope, so a bare
// `if (c) let x = 1;` cannot leak x.
func (c *codegen) scoped(s Stmt) {
	c.locals.push()
	c.stmt(s)
	c.locals.pop()
}

func (c *codegen) loopBody(loop loopLabels, body Stmt) {
	c.loops = append(c.loops, loop)
	c.scoped(body)
	c.loops = c.loops[:len(c.loops)-1]
}

func (c *codegen) forInit(init Stmt) {
	if x, ok := init.(*ExprStmt); ok {
		c.expr(x.X)
		c.emit(x, vm.OpPop, 0)
		return
	}
	c.stmt(init)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOps = map[TokenType]vm.Opcode{
	TokenPlus:    vm.OpAdd,
	TokenMinus:   vm.OpSub,
	TokenStar:    vm.OpMul,
	TokenSlash:   vm.OpDiv,
	TokenPercent: vm.OpMod,
	TokenConcat:  vm.OpConcat,
	TokenEq:      vm.OpEq,
	TokenNe:      vm.OpNe,
	TokenLt:      vm.OpLt,
	TokenLe:      vm.OpLe,
	TokenGt:      vm.OpGt,
	TokenGe:      vm.OpGe,
	TokenAmp:     vm.OpBitAnd,
	TokenPipe:    vm.OpBitOr,
	TokenCaret:   vm.OpBitXor,
	TokenShl:     vm.OpShl,
	TokenShr:     vm.OpShr,
}

var unaryOps = map[TokenType]vm.Opcode{
	TokenMinus: vm.OpNeg,
	TokenBang:  vm.OpNot,
	TokenTilde: vm.OpBitNot,
}

func (c *codegen) expr(x Expr) {
	switch x := x.(type) {
	case *IntLit:
		c.emit(x, vm.OpConst, c.pb.IntConstant(x.Value))
	case *FloatLit:
		c.emit(x, vm.OpConst, c.pb.FloatConstant(x.Value))
	case *StringLit:
		c.emit(x, vm.OpConst, c.pb.StringConstant(x.Value))
	case *BoolLit:
		if x.Value {
			c.emit(x, vm.OpTrue, 0)
		} else {
			c.emit(x, vm.OpFalse, 0)
		}
	case *NullLit:
		c.emit(x, vm.OpNil, 0)

	case *Ident:
		c.ident(x)

	case *UnaryExpr:
		c.expr(x.X)
		c.emit(x, unaryOps[x.Op], 0)

	case *BinaryExpr:
		switch x.Op {
		case TokenAndAnd, TokenOrOr:
			c.logical(x)
		default:
			c.expr(x.Left)
			c.expr(x.Right)
			c.emit(x, binaryOps[x.Op], 0)
		}

	case *AssignExpr:
		c.assign(x)

	case *CallExpr:
		c.call(x)

	case *FieldExpr:
		c.expr(x.X)
		c.emit(x, vm.OpGetField, c.pb.StringConstant(x.Field.Name))

	case *IndexExpr:
		c.expr(x.X)
		c.expr(x.Index)
		c.emit(x, vm.OpIndex, 0)

	case *ArrayLit:
		for _, e := range x.Elems {
			c.expr(e)
		}
		c.emit(x, vm.OpArray, len(x.Elems))

	case *StructLit:
		c.structLit(x)
	}
}

func (c *codegen) ident(x *Ident) {
	if slot, ok := c.locals.resolve(x.Name); ok {
		c.emit(x, vm.OpLoadLocal, slot)
		return
	}
	if fn, ok := c.funcs[x.Name]; ok {
		c.emit(x, vm.OpFunc, fn.index)
		return
	}
	switch {
	case x.Name == "len":
		c.failf(ErrSyntax, x.SpanVal, "built-in len can only be called")
	case c.structs[x.Name] != nil:
		c.failf(ErrUnresolvedName, x.SpanVal, "struct %s is not a value", x.Name)
	}
	c.failf(ErrUnresolvedName, x.SpanVal, "undefined: %s", x.Name)
}

// logical lowers && and || to conditional jumps. The left operand is kept
// as the result when it decides the outcome.
func (c *codegen) logical(x *BinaryExpr) {
	end := c.fb.NewLabel()
	c.expr(x.Left)
	c.emit(x, vm.OpDup, 0)
	if x.Op == TokenAndAnd {
		c.emitJump(x, vm.OpJumpIfFalse, end)
	} else {
		c.emitJump(x, vm.OpJumpIfTrue, end)
	}
	c.emit(x, vm.OpPop, 0)
	c.expr(x.Right)
	c.fb.Mark(end)
}

func (c *codegen) assign(x *AssignExpr) {
	op := assignOps[x.Op]
	compound := op != TokenAssign

	switch t := x.Target.(type) {
	case *Ident:
		slot, ok := c.locals.resolve(t.Name)
		if !ok {
			if _, isFunc := c.funcs[t.Name]; isFunc || t.Name == "len" {
				c.failf(ErrInvalidAssignment, t.SpanVal, "cannot assign to function %s", t.Name)
			}
			c.failf(ErrUnresolvedName, t.SpanVal, "undefined: %s", t.Name)
		}
		if compound {
			c.emit(x, vm.OpLoadLocal, slot)
			c.expr(x.Value)
			c.emit(x, binaryOps[op], 0)
		} else {
			c.expr(x.Value)
		}
		c.emit(x, vm.OpStoreLocal, slot)

	case *FieldExpr:
		name := c.pb.StringConstant(t.Field.Name)
		c.expr(t.X)
		if compound {
			obj := c.locals.temp()
			c.emit(x, vm.OpStoreLocal, obj)
			c.emit(x, vm.OpLoadLocal, obj)
			c.emit(x, vm.OpGetField, name)
			c.expr(x.Value)
			c.emit(x, binaryOps[op], 0)
			c.locals.release(obj)
		} else {
			c.expr(x.Value)
		}
		c.emit(x, vm.OpSetField, name)

	case *IndexExpr:
		if compound {
			arr := c.locals.temp()
			idx := c.locals.temp()
			c.expr(t.X)
			c.emit(x, vm.OpStoreLocal, arr)
			c.expr(t.Index)
			c.emit(x, vm.OpStoreLocal, idx)
			c.emit(x, vm.OpLoadLocal, arr)
			c.emit(x, vm.OpLoadLocal, idx)
			c.emit(x, vm.OpIndex, 0)
			c.expr(x.Value)
			c.emit(x, binaryOps[op], 0)
			c.locals.release(arr)
		} else {
			c.expr(t.X)
			c.expr(t.Index)
			c.expr(x.Value)
		}
		c.emit(x, vm.OpSetIndex, 0)

	default:
		c.failf(ErrInvalidAssignment, x.Target.Span(), "cannot assign to this expression")
	}
}

func (c *codegen) call(x *CallExpr) {
	switch callee := x.Callee.(type) {
	case *Ident:
		if _, local := c.locals.resolve(callee.Name); local {
			break
		}
		if callee.Name == "len" {
			if len(x.Args) != 1 {
				c.failf(ErrArityMismatch, x.SpanVal, "len expects 1 argument, got %d", len(x.Args))
			}
			c.expr(x.Args[0])
			c.emit(x, vm.OpLen, 0)
			return
		}
		if fn, ok := c.funcs[callee.Name]; ok && len(fn.decl.Params) != len(x.Args) {
			c.failf(ErrArityMismatch, x.SpanVal, "%s expects %d arguments, got %d", callee.Name, len(fn.decl.Params), len(x.Args))
		}

	case *FieldExpr:
		if len(x.Args) > vm.MaxInvokeArgs {
			c.failf(ErrTooLarge, x.SpanVal, "method call with %d arguments, limit is %d", len(x.Args), vm.MaxInvokeArgs)
		}
		name := c.pb.StringConstant(callee.Field.Name)
		if name >= maxInvokeName {
			c.failf(ErrTooLarge, x.SpanVal, "constant pool too large for method call")
		}
		c.expr(callee.X)
		for _, a := range x.Args {
			c.expr(a)
		}
		c.emit(x, vm.OpInvoke, int(vm.PackInvoke(name, len(x.Args))))
		return
	}

	c.expr(x.Callee)
	for _, a := range x.Args {
		c.expr(a)
	}
	c.emit(x, vm.OpCall, len(x.Args))
}

// maxInvokeName is the number of constants addressable by OpInvoke.
const maxInvokeName = 1 << 23

// structLit builds a struct instance. Initializers run in source order; the
// fields are then pushed in layout order.
func (c *codegen) structLit(x *StructLit) {
	s, ok := c.structs[x.Name.Name]
	if !ok {
		c.failf(ErrUnresolvedName, x.Name.SpanVal, "undefined struct %s", x.Name.Name)
	}
	inits := make([]*FieldInit, len(s.decl.Fields))
	inOrder := true
	for i := range x.Fields {
		f := &x.Fields[i]
		idx, known := s.fields[f.Field.Name]
		switch {
		case !known:
			c.failf(ErrInvalidStruct, f.Field.SpanVal, "struct %s has no field %s", x.Name.Name, f.Field.Name)
		case inits[idx] != nil:
			c.failf(ErrInvalidStruct, f.Field.SpanVal, "field %s initialized twice", f.Field.Name)
		}
		inits[idx] = f
		if idx != i {
			inOrder = false
		}
	}
	for i, f := range inits {
		if f == nil {
			c.failf(ErrInvalidStruct, x.SpanVal, "missing field %s in %s literal", s.decl.Fields[i].Name, x.Name.Name)
		}
	}

	if inOrder {
		for _, f := range inits {
			c.expr(f.Value)
		}
	} else {
		first := -1
		slots := make(map[*FieldInit]int, len(inits))
		for i := range x.Fields {
			f := &x.Fields[i]
			slot := c.locals.temp()
			if first < 0 {
				first = slot
			}
			slots[f] = slot
			c.expr(f.Value)
			c.emit(x, vm.OpStoreLocal, slot)
			c.emit(x, vm.OpPop, 0)
		}
		for _, f := range inits {
			c.emit(x, vm.OpLoadLocal, slots[f])
		}
		c.locals.release(first)
	}
	c.emit(x, vm.OpStruct, s.index)
}
