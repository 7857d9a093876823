package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for kernel source
// ---------------------------------------------------------------------------

// Diagnostic is a positioned parse or semantic error.
type Diagnostic struct {
	Pos Position
	Msg string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s", d.Pos.Line, d.Msg)
}

// Error collects the diagnostics of a failed compilation.
type Error struct {
	File        string
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	var sb strings.Builder
	for i, d := range e.Diagnostics {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if e.File != "" {
			sb.WriteString(e.File)
			sb.WriteString(": ")
		}
		sb.WriteString(d.String())
	}
	return sb.String()
}

// Parser parses kernel source code into an AST.
type Parser struct {
	tokens []Token
	pos    int
	errors []Diagnostic
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	return &Parser{tokens: NewLexer(input).Tokenize()}
}

// curToken returns the current token.
func (p *Parser) curToken() Token {
	return p.tokens[p.pos]
}

// peek returns the token n places after the current one.
func (p *Parser) peek(n int) Token {
	if p.pos+n >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+n]
}

// nextToken advances to the next token. EOF is sticky.
func (p *Parser) nextToken() Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken().Type == t
}

// expect consumes a token of type t, otherwise records an error.
func (p *Parser) expect(t TokenType) (Token, bool) {
	if p.curTokenIs(t) {
		return p.nextToken(), true
	}
	p.errorf("expected %s, got %s", t, p.describe(p.curToken()))
	return p.curToken(), false
}

func (p *Parser) describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of file"
	case TokenNewline:
		return "newline"
	case TokenError:
		return tok.Literal
	case TokenIdentifier, TokenInteger, TokenFloat:
		return fmt.Sprintf("%s %q", tok.Type, tok.Literal)
	}
	return fmt.Sprintf("%q", tok.Type.String())
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...interface{}) {
	p.errorAt(p.curToken().Pos, format, args...)
}

func (p *Parser) errorAt(pos Position, format string, args ...interface{}) {
	p.errors = append(p.errors, Diagnostic{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string {
	out := make([]string, len(p.errors))
	for i, d := range p.errors {
		out[i] = d.String()
	}
	return out
}

// Diagnostics returns accumulated parse errors with positions.
func (p *Parser) Diagnostics() []Diagnostic {
	return p.errors
}

func (p *Parser) spanFrom(start Position) Span {
	end := p.tokens[p.pos].Pos
	if p.pos > 0 {
		end = p.tokens[p.pos-1].Pos
	}
	return Span{Start: start, End: end}
}

func (p *Parser) skipNewlines() {
	for p.curTokenIs(TokenNewline) || p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
}

// peekPastNewlines reports whether the first token after any newlines has
// type t, and if so consumes the newlines.
func (p *Parser) peekPastNewlines(t TokenType) bool {
	i := 0
	for p.peek(i).Type == TokenNewline {
		i++
	}
	if p.peek(i).Type != t {
		return false
	}
	for ; i > 0; i-- {
		p.nextToken()
	}
	return true
}

// synchronize skips to the end of the current statement after an error.
func (p *Parser) synchronize() {
	for !p.curTokenIs(TokenEOF) {
		switch p.curToken().Type {
		case TokenNewline, TokenSemicolon:
			p.nextToken()
			return
		case TokenRBrace:
			return
		}
		p.nextToken()
	}
}

// endStatement consumes a statement terminator.
func (p *Parser) endStatement() {
	switch p.curToken().Type {
	case TokenNewline, TokenSemicolon:
		p.skipNewlines()
	case TokenRBrace, TokenEOF:
	default:
		p.errorf("expected end of statement, got %s", p.describe(p.curToken()))
		p.synchronize()
	}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses a whole source file.
func (p *Parser) ParseProgram(name string) *Program {
	prog := &Program{Name: name}
	p.skipNewlines()
	for !p.curTokenIs(TokenEOF) {
		before := p.pos
		d := p.parseDecl()
		if d != nil {
			prog.Decls = append(prog.Decls, d)
			switch d := d.(type) {
			case *ExceptionDecl:
				prog.Exceptions = append(prog.Exceptions, d)
			case *RecordDecl:
				prog.Records = append(prog.Records, d)
			case *RPCDecl:
				prog.RPCs = append(prog.RPCs, d.Names...)
			case *KernelDecl:
				prog.Kernels = append(prog.Kernels, d)
			}
		} else {
			p.synchronize()
			if p.curTokenIs(TokenRBrace) {
				p.nextToken()
			}
		}
		if p.pos == before {
			p.nextToken()
		}
		p.skipNewlines()
	}
	return prog
}

func (p *Parser) parseDecl() Decl {
	start := p.curToken().Pos
	switch p.curToken().Type {
	case TokenException:
		p.nextToken()
		name, ok := p.expect(TokenIdentifier)
		if !ok {
			return nil
		}
		d := &ExceptionDecl{Name: name.Literal}
		if p.curTokenIs(TokenLParen) {
			p.nextToken()
			parent, ok := p.expect(TokenIdentifier)
			if !ok {
				return nil
			}
			d.Parent = parent.Literal
			if _, ok := p.expect(TokenRParen); !ok {
				return nil
			}
		}
		d.SpanVal = p.spanFrom(start)
		p.endStatement()
		return d

	case TokenRecord:
		p.nextToken()
		name, ok := p.expect(TokenIdentifier)
		if !ok {
			return nil
		}
		fields, ok := p.parseIdentList(TokenLParen, TokenRParen)
		if !ok {
			return nil
		}
		d := &RecordDecl{Name: name.Literal, Fields: fields, SpanVal: p.spanFrom(start)}
		p.endStatement()
		return d

	case TokenRPC:
		p.nextToken()
		d := &RPCDecl{}
		for {
			name, ok := p.expect(TokenIdentifier)
			if !ok {
				return nil
			}
			d.Names = append(d.Names, name.Literal)
			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
		d.SpanVal = p.spanFrom(start)
		p.endStatement()
		return d

	case TokenKernel:
		p.nextToken()
		name, ok := p.expect(TokenIdentifier)
		if !ok {
			return nil
		}
		params, ok := p.parseIdentList(TokenLParen, TokenRParen)
		if !ok {
			return nil
		}
		body, ok := p.parseBlock()
		if !ok {
			return nil
		}
		return &KernelDecl{Name: name.Literal, Params: params, Body: body, SpanVal: p.spanFrom(start)}
	}
	p.errorf("expected declaration, got %s", p.describe(p.curToken()))
	return nil
}

// parseIdentList parses open [ident {, ident}] close.
func (p *Parser) parseIdentList(open, close TokenType) ([]string, bool) {
	if _, ok := p.expect(open); !ok {
		return nil, false
	}
	var names []string
	for !p.curTokenIs(close) {
		name, ok := p.expect(TokenIdentifier)
		if !ok {
			return nil, false
		}
		names = append(names, name.Literal)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if _, ok := p.expect(close); !ok {
		return nil, false
	}
	return names, true
}

// parseBlock parses { statements }.
func (p *Parser) parseBlock() ([]Stmt, bool) {
	if _, ok := p.expect(TokenLBrace); !ok {
		return nil, false
	}
	var stmts []Stmt
	p.skipNewlines()
	for !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenEOF) {
			p.errorf("expected }, got end of file")
			return stmts, false
		}
		before := p.pos
		if s := p.parseStatement(); s != nil {
			stmts = append(stmts, s)
			p.endStatement()
		} else {
			p.synchronize()
		}
		if p.pos == before {
			p.nextToken()
		}
		p.skipNewlines()
	}
	p.nextToken()
	return stmts, true
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ParseStatement parses a single statement.
func (p *Parser) ParseStatement() Stmt {
	return p.parseStatement()
}

func (p *Parser) parseStatement() Stmt {
	start := p.curToken().Pos
	switch p.curToken().Type {
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		p.nextToken()
		cond := p.parseExpr()
		if cond == nil {
			return nil
		}
		body, ok := p.parseBlock()
		if !ok {
			return nil
		}
		return &WhileStmt{Cond: cond, Body: body, SpanVal: p.spanFrom(start)}
	case TokenFor:
		p.nextToken()
		v, ok := p.expect(TokenIdentifier)
		if !ok {
			return nil
		}
		if _, ok := p.expect(TokenIn); !ok {
			return nil
		}
		iter := p.parseExpr()
		if iter == nil {
			return nil
		}
		body, ok := p.parseBlock()
		if !ok {
			return nil
		}
		return &ForStmt{
			Var:     &Name{Name: v.Literal, SpanVal: Span{Start: v.Pos, End: v.Pos}},
			Iter:    iter,
			Body:    body,
			SpanVal: p.spanFrom(start),
		}
	case TokenBreak:
		p.nextToken()
		return &BreakStmt{SpanVal: p.spanFrom(start)}
	case TokenContinue:
		p.nextToken()
		return &ContinueStmt{SpanVal: p.spanFrom(start)}
	case TokenPass:
		p.nextToken()
		return &PassStmt{SpanVal: p.spanFrom(start)}
	case TokenReturn:
		p.nextToken()
		s := &ReturnStmt{}
		if !p.atStatementEnd() {
			if s.Value = p.parseExpr(); s.Value == nil {
				return nil
			}
		}
		s.SpanVal = p.spanFrom(start)
		return s
	case TokenRaise:
		p.nextToken()
		s := &RaiseStmt{}
		if !p.atStatementEnd() {
			if s.Exc = p.parseExpr(); s.Exc == nil {
				return nil
			}
		}
		s.SpanVal = p.spanFrom(start)
		return s
	case TokenTry:
		return p.parseTry()
	case TokenParallel:
		p.nextToken()
		body, ok := p.parseBlock()
		if !ok {
			return nil
		}
		return &ParallelStmt{Body: body, SpanVal: p.spanFrom(start)}
	case TokenSequential:
		p.nextToken()
		body, ok := p.parseBlock()
		if !ok {
			return nil
		}
		return &SequentialStmt{Body: body, SpanVal: p.spanFrom(start)}
	}
	return p.parseSimpleStatement()
}

func (p *Parser) atStatementEnd() bool {
	switch p.curToken().Type {
	case TokenNewline, TokenSemicolon, TokenRBrace, TokenEOF:
		return true
	}
	return false
}

func (p *Parser) parseIf() Stmt {
	start := p.curToken().Pos
	p.nextToken() // if or elif
	cond := p.parseExpr()
	if cond == nil {
		return nil
	}
	then, ok := p.parseBlock()
	if !ok {
		return nil
	}
	s := &IfStmt{Cond: cond, Then: then}
	switch {
	case p.peekPastNewlines(TokenElif):
		elif := p.parseIf()
		if elif == nil {
			return nil
		}
		s.Else = []Stmt{elif}
	case p.peekPastNewlines(TokenElse):
		p.nextToken()
		if s.Else, ok = p.parseBlock(); !ok {
			return nil
		}
	}
	s.SpanVal = p.spanFrom(start)
	return s
}

func (p *Parser) parseTry() Stmt {
	start := p.curToken().Pos
	p.nextToken()
	body, ok := p.parseBlock()
	if !ok {
		return nil
	}
	s := &TryStmt{Body: body}
	for p.peekPastNewlines(TokenExcept) {
		h := p.parseExcept()
		if h == nil {
			return nil
		}
		s.Handlers = append(s.Handlers, h)
	}
	if p.peekPastNewlines(TokenElse) {
		if len(s.Handlers) == 0 {
			p.errorf("else clause requires at least one except clause")
			return nil
		}
		p.nextToken()
		if s.Else, ok = p.parseBlock(); !ok {
			return nil
		}
		s.HasElse = true
	}
	if p.peekPastNewlines(TokenFinally) {
		p.nextToken()
		if s.Finally, ok = p.parseBlock(); !ok {
			return nil
		}
		s.HasFinally = true
	}
	if len(s.Handlers) == 0 && !s.HasFinally {
		p.errorAt(start, "try statement needs an except or finally clause")
		return nil
	}
	s.SpanVal = p.spanFrom(start)
	return s
}

func (p *Parser) parseExcept() *ExceptClause {
	start := p.curToken().Pos
	p.nextToken()
	h := &ExceptClause{}
	parens := false
	if p.curTokenIs(TokenLParen) {
		parens = true
		p.nextToken()
	}
	for p.curTokenIs(TokenIdentifier) {
		tok := p.nextToken()
		h.Types = append(h.Types, &Name{Name: tok.Literal, SpanVal: Span{Start: tok.Pos, End: tok.Pos}})
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if parens {
		if _, ok := p.expect(TokenRParen); !ok {
			return nil
		}
	}
	if p.curTokenIs(TokenAs) {
		if len(h.Types) == 0 {
			p.errorf("'as' requires an exception type")
			return nil
		}
		p.nextToken()
		tok, ok := p.expect(TokenIdentifier)
		if !ok {
			return nil
		}
		h.Bind = &Name{Name: tok.Literal, SpanVal: Span{Start: tok.Pos, End: tok.Pos}}
	}
	body, ok := p.parseBlock()
	if !ok {
		return nil
	}
	h.Body = body
	h.SpanVal = p.spanFrom(start)
	return h
}

// parseSimpleStatement parses an expression statement or an assignment.
func (p *Parser) parseSimpleStatement() Stmt {
	start := p.curToken().Pos
	x := p.parseExpr()
	if x == nil {
		return nil
	}
	switch p.curToken().Type {
	case TokenAssign, TokenPlusAssign, TokenMinusAssign, TokenStarAssign:
		op := p.nextToken()
		switch x.(type) {
		case *Name, *SelfAttr, *IndexExpr:
		default:
			p.errorAt(start, "cannot assign to expression")
			return nil
		}
		value := p.parseExpr()
		if value == nil {
			return nil
		}
		return &AssignStmt{Target: x, Op: op.Literal, Value: value, SpanVal: p.spanFrom(start)}
	}
	return &ExprStmt{X: x, SpanVal: p.spanFrom(start)}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	return p.parseExpr()
}

func (p *Parser) parseExpr() Expr {
	return p.parseOr()
}

func (p *Parser) parseOr() Expr {
	start := p.curToken().Pos
	x := p.parseAnd()
	for x != nil && p.curTokenIs(TokenOr) {
		p.nextToken()
		y := p.parseAnd()
		if y == nil {
			return nil
		}
		x = &LogicalExpr{Op: "or", X: x, Y: y, SpanVal: p.spanFrom(start)}
	}
	return x
}

func (p *Parser) parseAnd() Expr {
	start := p.curToken().Pos
	x := p.parseNot()
	for x != nil && p.curTokenIs(TokenAnd) {
		p.nextToken()
		y := p.parseNot()
		if y == nil {
			return nil
		}
		x = &LogicalExpr{Op: "and", X: x, Y: y, SpanVal: p.spanFrom(start)}
	}
	return x
}

func (p *Parser) parseNot() Expr {
	if p.curTokenIs(TokenNot) {
		start := p.nextToken().Pos
		x := p.parseNot()
		if x == nil {
			return nil
		}
		return &UnaryExpr{Op: "not", X: x, SpanVal: p.spanFrom(start)}
	}
	return p.parseComparison()
}

var comparisonOps = map[TokenType]bool{
	TokenEq: true, TokenNotEq: true,
	TokenLess: true, TokenLessEq: true,
	TokenGreater: true, TokenGreaterEq: true,
}

func (p *Parser) parseComparison() Expr {
	start := p.curToken().Pos
	x := p.parseAdditive()
	if x == nil {
		return nil
	}
	if comparisonOps[p.curToken().Type] {
		op := p.nextToken()
		y := p.parseAdditive()
		if y == nil {
			return nil
		}
		x = &BinaryExpr{Op: op.Literal, X: x, Y: y, SpanVal: p.spanFrom(start)}
		if comparisonOps[p.curToken().Type] {
			p.errorf("chained comparisons are not supported")
			return nil
		}
	}
	return x
}

func (p *Parser) parseAdditive() Expr {
	start := p.curToken().Pos
	x := p.parseMultiplicative()
	for x != nil && (p.curTokenIs(TokenPlus) || p.curTokenIs(TokenMinus)) {
		op := p.nextToken()
		y := p.parseMultiplicative()
		if y == nil {
			return nil
		}
		x = &BinaryExpr{Op: op.Literal, X: x, Y: y, SpanVal: p.spanFrom(start)}
	}
	return x
}

func (p *Parser) parseMultiplicative() Expr {
	start := p.curToken().Pos
	x := p.parseUnary()
	for x != nil {
		switch p.curToken().Type {
		case TokenStar, TokenSlash, TokenSlashSlash, TokenPercent:
		default:
			return x
		}
		op := p.nextToken()
		y := p.parseUnary()
		if y == nil {
			return nil
		}
		x = &BinaryExpr{Op: op.Literal, X: x, Y: y, SpanVal: p.spanFrom(start)}
	}
	return x
}

func (p *Parser) parseUnary() Expr {
	if p.curTokenIs(TokenMinus) {
		start := p.nextToken().Pos
		x := p.parseUnary()
		if x == nil {
			return nil
		}
		return &UnaryExpr{Op: "-", X: x, SpanVal: p.spanFrom(start)}
	}
	if p.curTokenIs(TokenPlus) {
		p.nextToken()
		return p.parseUnary()
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() Expr {
	start := p.curToken().Pos
	x := p.parsePrimary()
	for x != nil {
		switch p.curToken().Type {
		case TokenDot:
			p.nextToken()
			name, ok := p.expect(TokenIdentifier)
			if !ok {
				return nil
			}
			if p.curTokenIs(TokenLParen) {
				args, ok := p.parseArgs()
				if !ok {
					return nil
				}
				x = &MethodCall{Recv: x, Method: name.Literal, Args: args, SpanVal: p.spanFrom(start)}
			} else {
				x = &FieldExpr{X: x, Field: name.Literal, SpanVal: p.spanFrom(start)}
			}
		case TokenLBracket:
			p.nextToken()
			idx := p.parseExpr()
			if idx == nil {
				return nil
			}
			if _, ok := p.expect(TokenRBracket); !ok {
				return nil
			}
			x = &IndexExpr{X: x, Index: idx, SpanVal: p.spanFrom(start)}
		default:
			return x
		}
	}
	return x
}

func (p *Parser) parseArgs() ([]Expr, bool) {
	p.nextToken() // (
	var args []Expr
	for !p.curTokenIs(TokenRParen) {
		a := p.parseExpr()
		if a == nil {
			return nil, false
		}
		args = append(args, a)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if _, ok := p.expect(TokenRParen); !ok {
		return nil, false
	}
	return args, true
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken()
	start := tok.Pos
	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		lit := strings.ReplaceAll(tok.Literal, "_", "")
		v, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			p.errorAt(start, "invalid integer literal %q", tok.Literal)
			return nil
		}
		return &IntLiteral{Value: v, SpanVal: p.spanFrom(start)}
	case TokenFloat:
		p.nextToken()
		v, err := strconv.ParseFloat(strings.ReplaceAll(tok.Literal, "_", ""), 64)
		if err != nil {
			p.errorAt(start, "invalid float literal %q", tok.Literal)
			return nil
		}
		return &FloatLiteral{Value: v, SpanVal: p.spanFrom(start)}
	case TokenString:
		p.nextToken()
		return &StringLiteral{Value: tok.Literal, SpanVal: p.spanFrom(start)}
	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLiteral{Value: tok.Type == TokenTrue, SpanVal: p.spanFrom(start)}
	case TokenNone:
		p.nextToken()
		return &NoneLiteral{SpanVal: p.spanFrom(start)}
	case TokenIdentifier:
		p.nextToken()
		if p.curTokenIs(TokenLParen) {
			args, ok := p.parseArgs()
			if !ok {
				return nil
			}
			return &CallExpr{Func: tok.Literal, Args: args, SpanVal: p.spanFrom(start)}
		}
		return &Name{Name: tok.Literal, SpanVal: p.spanFrom(start)}
	case TokenSelf:
		p.nextToken()
		if _, ok := p.expect(TokenDot); !ok {
			return nil
		}
		attr, ok := p.expect(TokenIdentifier)
		if !ok {
			return nil
		}
		if p.curTokenIs(TokenLParen) {
			p.errorf("self.%s is not callable", attr.Literal)
			return nil
		}
		return &SelfAttr{Attr: attr.Literal, SpanVal: p.spanFrom(start)}
	case TokenLParen:
		return p.parseParenExpr()
	case TokenLBracket:
		p.nextToken()
		l := &ListExpr{}
		for !p.curTokenIs(TokenRBracket) {
			e := p.parseExpr()
			if e == nil {
				return nil
			}
			l.Elems = append(l.Elems, e)
			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
		if _, ok := p.expect(TokenRBracket); !ok {
			return nil
		}
		l.SpanVal = p.spanFrom(start)
		return l
	case TokenError:
		p.errorf("%s", tok.Literal)
		p.nextToken()
		return nil
	}
	p.errorf("expected expression, got %s", p.describe(tok))
	return nil
}

// parseParenExpr parses (e), () and tuples (a,) (a, b).
func (p *Parser) parseParenExpr() Expr {
	start := p.nextToken().Pos
	if p.curTokenIs(TokenRParen) {
		p.nextToken()
		return &TupleExpr{SpanVal: p.spanFrom(start)}
	}
	first := p.parseExpr()
	if first == nil {
		return nil
	}
	if p.curTokenIs(TokenRParen) {
		p.nextToken()
		return first
	}
	t := &TupleExpr{Elems: []Expr{first}}
	for p.curTokenIs(TokenComma) {
		p.nextToken()
		if p.curTokenIs(TokenRParen) {
			break
		}
		e := p.parseExpr()
		if e == nil {
			return nil
		}
		t.Elems = append(t.Elems, e)
	}
	if _, ok := p.expect(TokenRParen); !ok {
		return nil
	}
	t.SpanVal = p.spanFrom(start)
	return t
}

// Parse parses source into a program without resolving names.
func Parse(name, source string) (*Program, error) {
	p := NewParser(source)
	prog := p.ParseProgram(name)
	if len(p.errors) > 0 {
		return prog, &Error{File: name, Diagnostics: p.errors}
	}
	return prog, nil
}
