package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Source positions
// ---------------------------------------------------------------------------

// Position represents a position in source code.
type Position struct {
	Offset int // byte offset, starting at 0
	Line   int // line number, starting at 1
	Column int // column number in bytes, starting at 1
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

func (s Span) String() string {
	return s.Start.String()
}

// join returns the span covering both s and o.
func (s Span) join(o Span) Span {
	return Span{Start: s.Start, End: o.End}
}

// ---------------------------------------------------------------------------
// Node interfaces
// ---------------------------------------------------------------------------

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node()
}

// Expr is a node that produces a value.
type Expr interface {
	Node
	expr()
}

// Stmt is a node executed for effect.
type Stmt interface {
	Node
	stmt()
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// File is a parsed source file. Declarations are collected separately from
// the top-level statements that form the script body.
type File struct {
	Funcs   []*FnDecl
	Structs []*StructDecl
	Impls   []*ImplDecl
	Stmts   []Stmt
	SpanVal Span
}

// Name is an identifier together with where it was written.
type Name struct {
	Name    string
	SpanVal Span
}

// FnDecl represents `fn name(params) { body }`.
type FnDecl struct {
	Name    Name
	Params  []Name
	Body    *BlockStmt
	SpanVal Span
}

// StructDecl represents `struct Name { a, b }`.
type StructDecl struct {
	Name    Name
	Fields  []Name
	SpanVal Span
}

// ImplDecl represents `impl Name { fn ... }`.
type ImplDecl struct {
	Name    Name
	Methods []*FnDecl
	SpanVal Span
}

func (n *File) Span() Span       { return n.SpanVal }
func (n Name) Span() Span        { return n.SpanVal }
func (n *FnDecl) Span() Span     { return n.SpanVal }
func (n *StructDecl) Span() Span { return n.SpanVal }
func (n *ImplDecl) Span() Span   { return n.SpanVal }

func (*File) node()       {}
func (Name) node()        {}
func (*FnDecl) node()     {}
func (*StructDecl) node() {}
func (*ImplDecl) node()   {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// LetStmt declares a local; Value is nil for `let x;`.
type LetStmt struct {
	Name    Name
	Value   Expr
	SpanVal Span
}

// PrintStmt writes the display form of Value and a newline.
type PrintStmt struct {
	Value   Expr
	SpanVal Span
}

// ReturnStmt returns Value, or null when Value is nil.
type ReturnStmt struct {
	Value   Expr
	SpanVal Span
}

// IfStmt is a conditional; Else may be nil.
type IfStmt struct {
	Cond    Expr
	Then    Stmt
	Else    Stmt
	SpanVal Span
}

// WhileStmt loops while Cond is true.
type WhileStmt struct {
	Cond    Expr
	Body    Stmt
	SpanVal Span
}

// ForStmt is a C-style loop. Init is a *LetStmt, an *ExprStmt or nil; Cond
// and Post may be nil.
type ForStmt struct {
	Init    Stmt
	Cond    Expr
	Post    Expr
	Body    Stmt
	SpanVal Span
}

type BreakStmt struct {
	SpanVal Span
}

type ContinueStmt struct {
	SpanVal Span
}

// BlockStmt is a braced statement list with its own scope.
type BlockStmt struct {
	Stmts   []Stmt
	SpanVal Span
}

// ExprStmt evaluates X and discards the result.
type ExprStmt struct {
	X       Expr
	SpanVal Span
}

func (n *LetStmt) Span() Span      { return n.SpanVal }
func (n *PrintStmt) Span() Span    { return n.SpanVal }
func (n *ReturnStmt) Span() Span   { return n.SpanVal }
func (n *IfStmt) Span() Span       { return n.SpanVal }
func (n *WhileStmt) Span() Span    { return n.SpanVal }
func (n *ForStmt) Span() Span      { return n.SpanVal }
func (n *BreakStmt) Span() Span    { return n.SpanVal }
func (n *ContinueStmt) Span() Span { return n.SpanVal }
func (n *BlockStmt) Span() Span    { return n.SpanVal }
func (n *ExprStmt) Span() Span     { return n.SpanVal }

func (*LetStmt) node()      {}
func (*PrintStmt) node()    {}
func (*ReturnStmt) node()   {}
func (*IfStmt) node()       {}
func (*WhileStmt) node()    {}
func (*ForStmt) node()      {}
func (*BreakStmt) node()    {}
func (*ContinueStmt) node() {}
func (*BlockStmt) node()    {}
func (*ExprStmt) node()     {}

func (*LetStmt) stmt()      {}
func (*PrintStmt) stmt()    {}
func (*ReturnStmt) stmt()   {}
func (*IfStmt) stmt()       {}
func (*WhileStmt) stmt()    {}
func (*ForStmt) stmt()      {}
func (*BreakStmt) stmt()    {}
func (*ContinueStmt) stmt() {}
func (*BlockStmt) stmt()    {}
func (*ExprStmt) stmt()     {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

type IntLit struct {
	Value   int64
	SpanVal Span
}

type FloatLit struct {
	Value   float64
	SpanVal Span
}

type StringLit struct {
	Value   string
	SpanVal Span
}

type BoolLit struct {
	Value   bool
	SpanVal Span
}

type NullLit struct {
	SpanVal Span
}

// Ident is a reference to a local, a function or the built-in len.
type Ident struct {
	Name    string
	SpanVal Span
}

// UnaryExpr is `-x`, `!x` or `~x`.
type UnaryExpr struct {
	Op      TokenType
	X       Expr
	SpanVal Span
}

// BinaryExpr covers arithmetic, comparison, bitwise, concatenation and the
// short-circuit operators && and ||.
type BinaryExpr struct {
	Op      TokenType
	Left    Expr
	Right   Expr
	SpanVal Span
}

// AssignExpr is `target = value` or a compound form such as `target += value`.
type AssignExpr struct {
	Op      TokenType
	Target  Expr
	Value   Expr
	SpanVal Span
}

// CallExpr calls Callee. A callee of the form x.m makes it a method call.
type CallExpr struct {
	Callee  Expr
	Args    []Expr
	SpanVal Span
}

// FieldExpr is `x.name`.
type FieldExpr struct {
	X       Expr
	Field   Name
	SpanVal Span
}

// IndexExpr is `x[index]`.
type IndexExpr struct {
	X       Expr
	Index   Expr
	SpanVal Span
}

type ArrayLit struct {
	Elems   []Expr
	SpanVal Span
}

// FieldInit is one `name: value` entry of a struct literal.
type FieldInit struct {
	Field Name
	Value Expr
}

// StructLit is `Name { field: value, ... }`.
type StructLit struct {
	Name    Name
	Fields  []FieldInit
	SpanVal Span
}

func (n *IntLit) Span() Span     { return n.SpanVal }
func (n *FloatLit) Span() Span   { return n.SpanVal }
func (n *StringLit) Span() Span  { return n.SpanVal }
func (n *BoolLit) Span() Span    { return n.SpanVal }
func (n *NullLit) Span() Span    { return n.SpanVal }
func (n *Ident) Span() Span      { return n.SpanVal }
func (n *UnaryExpr) Span() Span  { return n.SpanVal }
func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *AssignExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) Span() Span   { return n.SpanVal }
func (n *FieldExpr) Span() Span  { return n.SpanVal }
func (n *IndexExpr) Span() Span  { return n.SpanVal }
func (n *ArrayLit) Span() Span   { return n.SpanVal }
func (n *StructLit) Span() Span  { return n.SpanVal }

func (*IntLit) node()     {}
func (*FloatLit) node()   {}
func (*StringLit) node()  {}
func (*BoolLit) node()    {}
func (*NullLit) node()    {}
func (*Ident) node()      {}
func (*UnaryExpr) node()  {}
func (*BinaryExpr) node() {}
func (*AssignExpr) node() {}
func (*CallExpr) node()   {}
func (*FieldExpr) node()  {}
func (*IndexExpr) node()  {}
func (*ArrayLit) node()   {}
func (*StructLit) node()  {}

func (*IntLit) expr()     {}
func (*FloatLit) expr()   {}
func (*StringLit) expr()  {}
func (*BoolLit) expr()    {}
func (*NullLit) expr()    {}
func (*Ident) expr()      {}
func (*UnaryExpr) expr()  {}
func (*BinaryExpr) expr() {}
func (*AssignExpr) expr() {}
func (*CallExpr) expr()   {}
func (*FieldExpr) expr()  {}
func (*IndexExpr) expr()  {}
func (*ArrayLit) expr()   {}
func (*StructLit) expr()  {}
