package compiler

import (
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: warnings for programs that compile
// ---------------------------------------------------------------------------

// Warning is a non-fatal finding: the program still compiles and runs.
type Warning struct {
	Span Span
	Msg  string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Span.Start, w.Msg)
}

// SemanticAnalyzer walks a parsed file looking for code that is legal but
// almost certainly a mistake: statements that can never run and locals
// that are written but never read.
type SemanticAnalyzer struct {
	warnings []Warning
	scopes   []map[string]*binding
}

type binding struct {
	name  Name
	used  bool
	param bool
}

// NewSemanticAnalyzer creates a new semantic analyzer.
func NewSemanticAnalyzer() *SemanticAnalyzer {
	return &SemanticAnalyzer{}
}

// Analyze reports warnings for file, ordered by position.
func Analyze(file *File) []Warning {
	s := NewSemanticAnalyzer()
	s.AnalyzeFile(file)
	return s.Warnings()
}

// Warnings returns the accumulated warnings, ordered by position.
func (s *SemanticAnalyzer) Warnings() []Warning {
	slices.SortStableFunc(s.warnings, func(a, b Warning) int {
		return a.Span.Start.Offset - b.Span.Start.Offset
	})
	return s.warnings
}

func (s *SemanticAnalyzer) warnAt(node Node, format string, args ...any) {
	s.warnings = append(s.warnings, Warning{Span: node.Span(), Msg: fmt.Sprintf(format, args...)})
}

// AnalyzeFile analyzes the script body and every function and method.
func (s *SemanticAnalyzer) AnalyzeFile(file *File) {
	s.analyzeBody(nil, file.Stmts)
	for _, fn := range file.Funcs {
		s.analyzeBody(fn.Params, fn.Body.Stmts)
	}
	for _, impl := range file.Impls {
		for _, m := range impl.Methods {
			s.analyzeBody(m.Params, m.Body.Stmts)
		}
	}
}

func (s *SemanticAnalyzer) analyzeBody(params []Name, stmts []Stmt) {
	s.scopes = nil
	s.push()
	for _, p := range params {
		s.scopes[0][p.Name] = &binding{name: p, param: true}
	}
	s.analyzeStatements(stmts)
	s.pop()
}

func (s *SemanticAnalyzer) push() {
	s.scopes = append(s.scopes, make(map[string]*binding))
}

// pop closes a scope, reporting its unread locals.
func (s *SemanticAnalyzer) pop() {
	top := s.scopes[len(s.scopes)-1]
	s.scopes = s.scopes[:len(s.scopes)-1]
	for _, b := range top {
		if !b.used && !b.param && b.name.Name != "_" {
			s.warnAt(b.name, "%s declared and not used", b.name.Name)
		}
	}
}

func (s *SemanticAnalyzer) declare(n Name) {
	s.scopes[len(s.scopes)-1][n.Name] = &binding{name: n}
}

func (s *SemanticAnalyzer) use(name string) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if b, ok := s.scopes[i][name]; ok {
			b.used = true
			return
		}
	}
}

func (s *SemanticAnalyzer) analyzeStatements(stmts []Stmt) {
	s.checkUnreachableCode(stmts)
	for _, stmt := range stmts {
		s.analyzeStmt(stmt)
	}
}

func (s *SemanticAnalyzer) analyzeStmt(stmt Stmt) {
	switch n := stmt.(type) {
	case *LetStmt:
		if n.Value != nil {
			s.analyzeExpr(n.Value)
		}
		s.declare(n.Name)
	case *PrintStmt:
		s.analyzeExpr(n.Value)
	case *ReturnStmt:
		if n.Value != nil {
			s.analyzeExpr(n.Value)
		}
	case *IfStmt:
		s.analyzeExpr(n.Cond)
		s.analyzeNested(n.Then)
		if n.Else != nil {
			s.analyzeNested(n.Else)
		}
	case *WhileStmt:
		s.analyzeExpr(n.Cond)
		s.analyzeNested(n.Body)
	case *ForStmt:
		s.push()
		if n.Init != nil {
			s.analyzeStmt(n.Init)
		}
		if n.Cond != nil {
			s.analyzeExpr(n.Cond)
		}
		if n.Post != nil {
			s.analyzeExpr(n.Post)
		}
		s.analyzeNested(n.Body)
		s.pop()
	case *BlockStmt:
		s.push()
		s.analyzeStatements(n.Stmts)
		s.pop()
	case *ExprStmt:
		s.analyzeExpr(n.X)
	}
}

func (s *SemanticAnalyzer) analyzeNested(stmt Stmt) {
	s.push()
	s.analyzeStmt(stmt)
	s.pop()
}

func (s *SemanticAnalyzer) analyzeExpr(expr Expr) {
	switch n := expr.(type) {
	case *Ident:
		s.use(n.Name)
	case *UnaryExpr:
		s.analyzeExpr(n.X)
	case *BinaryExpr:
		s.analyzeExpr(n.Left)
		s.analyzeExpr(n.Right)
	case *AssignExpr:
		s.checkAssignmentTarget(n)
		s.analyzeExpr(n.Value)
	case *CallExpr:
		s.analyzeExpr(n.Callee)
		for _, a := range n.Args {
			s.analyzeExpr(a)
		}
	case *FieldExpr:
		s.analyzeExpr(n.X)
	case *IndexExpr:
		s.analyzeExpr(n.X)
		s.analyzeExpr(n.Index)
	case *ArrayLit:
		for _, e := range n.Elems {
			s.analyzeExpr(e)
		}
	case *StructLit:
		for _, f := range n.Fields {
			s.analyzeExpr(f.Value)
		}
	}
}

// checkAssignmentTarget walks the target. A plain store to a local is not
// a read; a compound store is.
func (s *SemanticAnalyzer) checkAssignmentTarget(a *AssignExpr) {
	if id, ok := a.Target.(*Ident); ok {
		if a.Op != TokenAssign {
			s.use(id.Name)
		}
		return
	}
	s.analyzeExpr(a.Target)
}

// checkUnreachableCode warns once about the first statement following a
// return, break or continue in the same list.
func (s *SemanticAnalyzer) checkUnreachableCode(stmts []Stmt) {
	for i, stmt := range stmts {
		switch stmt.(type) {
		case *ReturnStmt, *BreakStmt, *ContinueStmt:
			if i+1 < len(stmts) {
				s.warnAt(stmts[i+1], "unreachable code")
			}
			return
		}
	}
}
