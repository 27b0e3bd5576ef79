package compiler

// ---------------------------------------------------------------------------
// Parser: recursive descent with precedence climbing for binary operators
// ---------------------------------------------------------------------------

// maxNesting bounds how deeply expressions and blocks may nest.
const maxNesting = 1000

// Parser parses source code into a File. It stops at the first error.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	depth     int
	err       error
}

// bailout unwinds the parser after the first error has been recorded.
type bailout struct{}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	return &Parser{lexer: NewLexer(input)}
}

// Parse parses a whole source file.
func Parse(input string) (*File, error) {
	return NewParser(input).ParseFile()
}

// ParseFile parses the parser's input. On error the returned file is nil and
// the error is a *LexError or a *CompileError.
func (p *Parser) ParseFile() (file *File, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			file, err = nil, p.err
		}
	}()
	p.lexer.Reset()
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p.parseFile(), nil
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	tok, err := p.lexer.Next()
	if err != nil {
		p.err = err
		panic(bailout{})
	}
	p.peekToken = tok
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect consumes a token of type t and returns it, or fails.
func (p *Parser) expect(t TokenType) Token {
	tok := p.curToken
	if tok.Type != t {
		p.failf(ErrSyntax, tok.Span, "expected %s, got %s", t, describeToken(tok))
	}
	p.nextToken()
	return tok
}

// accept consumes a token of type t if it is next.
func (p *Parser) accept(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	return false
}

func (p *Parser) expectName() Name {
	tok := p.expect(TokenIdentifier)
	return Name{Name: tok.Literal, SpanVal: tok.Span}
}

func (p *Parser) failf(kind ErrorKind, span Span, format string, args ...any) {
	p.err = compileErrorf(kind, span, format, args...)
	panic(bailout{})
}

func (p *Parser) enter(span Span) {
	p.depth++
	if p.depth > maxNesting {
		p.failf(ErrTooLarge, span, "nesting deeper than %d levels", maxNesting)
	}
}

func (p *Parser) leave() {
	p.depth--
}

func describeToken(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenIdentifier, TokenInteger, TokenFloat, TokenString:
		return tok.Type.String() + " " + tok.Literal
	}
	return "'" + tok.Type.String() + "'"
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (p *Parser) parseFile() *File {
	file := &File{}
	start := p.curToken.Span
	for !p.curTokenIs(TokenEOF) {
		switch p.curToken.Type {
		case TokenFn:
			file.Funcs = append(file.Funcs, p.parseFnDecl())
		case TokenStruct:
			file.Structs = append(file.Structs, p.parseStructDecl())
		case TokenImpl:
			file.Impls = append(file.Impls, p.parseImplDecl())
		default:
			file.Stmts = append(file.Stmts, p.parseStatement())
		}
	}
	file.SpanVal = start.join(p.curToken.Span)
	return file
}

func (p *Parser) parseFnDecl() *FnDecl {
	start := p.expect(TokenFn).Span
	fn := &FnDecl{Name: p.expectName()}
	p.expect(TokenLParen)
	for !p.curTokenIs(TokenRParen) {
		fn.Params = append(fn.Params, p.expectName())
		if !p.accept(TokenComma) {
			break
		}
	}
	p.expect(TokenRParen)
	fn.Body = p.parseBlock()
	fn.SpanVal = start.join(fn.Body.SpanVal)
	return fn
}

func (p *Parser) parseStructDecl() *StructDecl {
	start := p.expect(TokenStruct).Span
	decl := &StructDecl{Name: p.expectName()}
	p.expect(TokenLBrace)
	for !p.curTokenIs(TokenRBrace) {
		decl.Fields = append(decl.Fields, p.expectName())
		p.accept(TokenComma)
	}
	decl.SpanVal = start.join(p.expect(TokenRBrace).Span)
	return decl
}

func (p *Parser) parseImplDecl() *ImplDecl {
	start := p.expect(TokenImpl).Span
	decl := &ImplDecl{Name: p.expectName()}
	p.expect(TokenLBrace)
	for !p.curTokenIs(TokenRBrace) {
		if !p.curTokenIs(TokenFn) {
			p.failf(ErrSyntax, p.curToken.Span, "expected method declaration, got %s", describeToken(p.curToken))
		}
		decl.Methods = append(decl.Methods, p.parseFnDecl())
	}
	decl.SpanVal = start.join(p.expect(TokenRBrace).Span)
	return decl
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseStatement() Stmt {
	switch p.curToken.Type {
	case TokenLet:
		s := p.parseLet()
		s.SpanVal = s.SpanVal.join(p.expect(TokenSemicolon).Span)
		return s
	case TokenPrint:
		start := p.expect(TokenPrint).Span
		value := p.parseExpression()
		return &PrintStmt{Value: value, SpanVal: start.join(p.expect(TokenSemicolon).Span)}
	case TokenReturn:
		start := p.expect(TokenReturn).Span
		var value Expr
		if !p.curTokenIs(TokenSemicolon) {
			value = p.parseExpression()
		}
		return &ReturnStmt{Value: value, SpanVal: start.join(p.expect(TokenSemicolon).Span)}
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		start := p.expect(TokenWhile).Span
		cond := p.parseCondition()
		body := p.parseNested()
		return &WhileStmt{Cond: cond, Body: body, SpanVal: start.join(body.Span())}
	case TokenFor:
		return p.parseFor()
	case TokenBreak:
		start := p.expect(TokenBreak).Span
		return &BreakStmt{SpanVal: start.join(p.expect(TokenSemicolon).Span)}
	case TokenContinue:
		start := p.expect(TokenContinue).Span
		return &ContinueStmt{SpanVal: start.join(p.expect(TokenSemicolon).Span)}
	case TokenLBrace:
		return p.parseBlock()
	case TokenFn, TokenStruct, TokenImpl:
		p.failf(ErrSyntax, p.curToken.Span, "%s declarations are only allowed at top level", p.curToken.Type)
	}
	x := p.parseExpression()
	return &ExprStmt{X: x, SpanVal: x.Span().join(p.expect(TokenSemicolon).Span)}
}

// parseLet parses `let name (= value)?` without the trailing semicolon.
func (p *Parser) parseLet() *LetStmt {
	start := p.expect(TokenLet).Span
	s := &LetStmt{Name: p.expectName()}
	s.SpanVal = start.join(s.Name.SpanVal)
	if p.accept(TokenAssign) {
		s.Value = p.parseExpression()
		s.SpanVal = start.join(s.Value.Span())
	}
	return s
}

func (p *Parser) parseIf() *IfStmt {
	start := p.expect(TokenIf).Span
	s := &IfStmt{Cond: p.parseCondition()}
	s.Then = p.parseNested()
	s.SpanVal = start.join(s.Then.Span())
	if p.accept(TokenElse) {
		s.Else = p.parseNested()
		s.SpanVal = start.join(s.Else.Span())
	}
	return s
}

func (p *Parser) parseFor() *ForStmt {
	start := p.expect(TokenFor).Span
	s := &ForStmt{}
	p.expect(TokenLParen)
	switch {
	case p.curTokenIs(TokenLet):
		s.Init = p.parseLet()
	case !p.curTokenIs(TokenSemicolon):
		x := p.parseExpression()
		s.Init = &ExprStmt{X: x, SpanVal: x.Span()}
	}
	p.expect(TokenSemicolon)
	if !p.curTokenIs(TokenSemicolon) {
		s.Cond = p.parseExpression()
	}
	p.expect(TokenSemicolon)
	if !p.curTokenIs(TokenRParen) {
		s.Post = p.parseExpression()
	}
	p.expect(TokenRParen)
	s.Body = p.parseNested()
	s.SpanVal = start.join(s.Body.Span())
	return s
}

func (p *Parser) parseCondition() Expr {
	p.expect(TokenLParen)
	cond := p.parseExpression()
	p.expect(TokenRParen)
	return cond
}

// parseNested parses the body of a control statement.
func (p *Parser) parseNested() Stmt {
	p.enter(p.curToken.Span)
	defer p.leave()
	return p.parseStatement()
}

func (p *Parser) parseBlock() *BlockStmt {
	start := p.expect(TokenLBrace).Span
	p.enter(start)
	defer p.leave()
	b := &BlockStmt{}
	for !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenEOF) {
			p.failf(ErrSyntax, p.curToken.Span, "unclosed block opened at %s", start)
		}
		b.Stmts = append(b.Stmts, p.parseStatement())
	}
	b.SpanVal = start.join(p.expect(TokenRBrace).Span)
	return b
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Binary operator precedence, loosest first. All binary operators are left
// associative; assignment is handled separately and is right associative.
var binaryPrecedence = map[TokenType]int{
	TokenOrOr:    1,
	TokenAndAnd:  2,
	TokenPipe:    3,
	TokenCaret:   4,
	TokenAmp:     5,
	TokenEq:      6,
	TokenNe:      6,
	TokenLt:      7,
	TokenLe:      7,
	TokenGt:      7,
	TokenGe:      7,
	TokenShl:     8,
	TokenShr:     8,
	TokenPlus:    9,
	TokenMinus:   9,
	TokenConcat:  9,
	TokenStar:    10,
	TokenSlash:   10,
	TokenPercent: 10,
}

var assignOps = map[TokenType]TokenType{
	TokenAssign:    TokenAssign,
	TokenPlusEq:    TokenPlus,
	TokenMinusEq:   TokenMinus,
	TokenStarEq:    TokenStar,
	TokenSlashEq:   TokenSlash,
	TokenPercentEq: TokenPercent,
}

// parseExpression parses an expression, including assignment.
func (p *Parser) parseExpression() Expr {
	p.enter(p.curToken.Span)
	defer p.leave()

	left := p.parseBinary(1)
	if _, ok := assignOps[p.curToken.Type]; !ok {
		return left
	}
	op := p.curToken
	switch left.(type) {
	case *Ident, *FieldExpr, *IndexExpr:
	default:
		p.failf(ErrInvalidAssignment, left.Span(), "cannot assign to this expression")
	}
	p.nextToken()
	value := p.parseExpression()
	return &AssignExpr{Op: op.Type, Target: left, Value: value, SpanVal: left.Span().join(value.Span())}
}

func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.parseUnary()
	for {
		prec, ok := binaryPrecedence[p.curToken.Type]
		if !ok || prec < minPrec {
			return left
		}
		op := p.curToken.Type
		p.nextToken()
		right := p.parseBinary(prec + 1)
		left = &BinaryExpr{Op: op, Left: left, Right: right, SpanVal: left.Span().join(right.Span())}
	}
}

func (p *Parser) parseUnary() Expr {
	switch p.curToken.Type {
	case TokenMinus, TokenBang, TokenTilde:
		tok := p.curToken
		p.enter(tok.Span)
		defer p.leave()
		p.nextToken()
		x := p.parseUnary()
		return &UnaryExpr{Op: tok.Type, X: x, SpanVal: tok.Span.join(x.Span())}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() Expr {
	x := p.parsePrimary()
	for {
		switch p.curToken.Type {
		case TokenLParen:
			p.nextToken()
			args := p.parseList(TokenRParen)
			end := p.expect(TokenRParen).Span
			x = &CallExpr{Callee: x, Args: args, SpanVal: x.Span().join(end)}
		case TokenDot:
			p.nextToken()
			field := p.expectName()
			x = &FieldExpr{X: x, Field: field, SpanVal: x.Span().join(field.SpanVal)}
		case TokenLBracket:
			p.nextToken()
			idx := p.parseExpression()
			end := p.expect(TokenRBracket).Span
			x = &IndexExpr{X: x, Index: idx, SpanVal: x.Span().join(end)}
		default:
			return x
		}
	}
}

// parseList parses comma-separated expressions up to, but not including, end.
// A trailing comma is allowed.
func (p *Parser) parseList(end TokenType) []Expr {
	var list []Expr
	for !p.curTokenIs(end) {
		list = append(list, p.parseExpression())
		if !p.accept(TokenComma) {
			break
		}
	}
	return list
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		return &IntLit{Value: tok.Int, SpanVal: tok.Span}
	case TokenFloat:
		p.nextToken()
		return &FloatLit{Value: tok.Float, SpanVal: tok.Span}
	case TokenString:
		p.nextToken()
		return &StringLit{Value: tok.Str, SpanVal: tok.Span}
	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLit{Value: tok.Type == TokenTrue, SpanVal: tok.Span}
	case TokenNull:
		p.nextToken()
		return &NullLit{SpanVal: tok.Span}
	case TokenIdentifier:
		if p.peekTokenIs(TokenLBrace) {
			return p.parseStructLit()
		}
		p.nextToken()
		return &Ident{Name: tok.Literal, SpanVal: tok.Span}
	case TokenLParen:
		p.nextToken()
		x := p.parseExpression()
		p.expect(TokenRParen)
		return x
	case TokenLBracket:
		p.nextToken()
		elems := p.parseList(TokenRBracket)
		end := p.expect(TokenRBracket).Span
		return &ArrayLit{Elems: elems, SpanVal: tok.Span.join(end)}
	}
	p.failf(ErrSyntax, tok.Span, "expected expression, got %s", describeToken(tok))
	return nil
}

func (p *Parser) parseStructLit() *StructLit {
	lit := &StructLit{Name: p.expectName()}
	p.expect(TokenLBrace)
	for !p.curTokenIs(TokenRBrace) {
		field := p.expectName()
		p.expect(TokenColon)
		lit.Fields = append(lit.Fields, FieldInit{Field: field, Value: p.parseExpression()})
		if !p.accept(TokenComma) {
			break
		}
	}
	lit.SpanVal = lit.Name.SpanVal.join(p.expect(TokenRBrace).Span)
	return lit
}
