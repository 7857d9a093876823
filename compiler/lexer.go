package compiler

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for kernel source
// ---------------------------------------------------------------------------

// Lexer tokenizes kernel source code. Newlines are significant statement
// terminators except inside parentheses and brackets, where they are skipped.
// Runs of blank lines produce a single TokenNewline.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)

	nesting     int  // depth of open ( and [
	lastNewline bool // last emitted token was a newline (or nothing yet)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input:       input,
		line:        1,
		col:         0,
		lastNewline: true,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// Tokenize returns every token up to and including EOF.
func (l *Lexer) Tokenize() []Token {
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	for {
		l.skipSpaceAndComments()
		if l.ch != '\n' {
			break
		}
		pos := l.position()
		l.readChar()
		if l.nesting > 0 || l.lastNewline {
			continue
		}
		l.lastNewline = true
		return Token{Type: TokenNewline, Literal: "\n", Pos: pos}
	}
	tok := l.scan()
	l.lastNewline = tok.Type == TokenSemicolon || tok.Type == TokenLBrace
	return tok
}

func (l *Lexer) scan() Token {
	pos := l.position()
	single := func(t TokenType) Token {
		lit := string(l.ch)
		l.readChar()
		return Token{Type: t, Literal: lit, Pos: pos}
	}
	withAssign := func(plain, assign TokenType) Token {
		lit := string(l.ch)
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: assign, Literal: lit + "=", Pos: pos}
		}
		return Token{Type: plain, Literal: lit, Pos: pos}
	}

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Pos: pos}
	case l.ch == '(':
		l.nesting++
		return single(TokenLParen)
	case l.ch == ')':
		if l.nesting > 0 {
			l.nesting--
		}
		return single(TokenRParen)
	case l.ch == '[':
		l.nesting++
		return single(TokenLBracket)
	case l.ch == ']':
		if l.nesting > 0 {
			l.nesting--
		}
		return single(TokenRBracket)
	case l.ch == '{':
		return single(TokenLBrace)
	case l.ch == '}':
		return single(TokenRBrace)
	case l.ch == ',':
		return single(TokenComma)
	case l.ch == ';':
		return single(TokenSemicolon)
	case l.ch == '%':
		return single(TokenPercent)
	case l.ch == '+':
		return withAssign(TokenPlus, TokenPlusAssign)
	case l.ch == '-':
		return withAssign(TokenMinus, TokenMinusAssign)
	case l.ch == '*':
		return withAssign(TokenStar, TokenStarAssign)
	case l.ch == '=':
		return withAssign(TokenAssign, TokenEq)
	case l.ch == '<':
		return withAssign(TokenLess, TokenLessEq)
	case l.ch == '>':
		return withAssign(TokenGreater, TokenGreaterEq)
	case l.ch == '/':
		l.readChar()
		if l.ch == '/' {
			l.readChar()
			return Token{Type: TokenSlashSlash, Literal: "//", Pos: pos}
		}
		return Token{Type: TokenSlash, Literal: "/", Pos: pos}
	case l.ch == '!':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenNotEq, Literal: "!=", Pos: pos}
		}
		return Token{Type: TokenError, Literal: "unexpected '!'", Pos: pos}
	case l.ch == '.':
		if isDigit(l.peekChar()) {
			return l.readNumber(pos)
		}
		return single(TokenDot)
	case l.ch == '"' || l.ch == '\'':
		return l.readString(pos)
	case isDigit(l.ch):
		return l.readNumber(pos)
	case isLetter(l.ch):
		return l.readIdentifier(pos)
	}
	ch := l.ch
	l.readChar()
	return Token{Type: TokenError, Literal: "unexpected character " + string(ch), Pos: pos}
}

// skipSpaceAndComments skips blanks and '#' comments, stopping at a newline.
func (l *Lexer) skipSpaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\r':
			l.readChar()
		case l.ch == '\\' && l.peekChar() == '\n':
			l.readChar()
			l.readChar()
		case l.ch == '#':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) readIdentifier(pos Position) Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	return Token{Type: LookupIdent(lit), Literal: lit, Pos: pos}
}

func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
	}
	isFloat := false
	l.readDigits()
	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar()
		l.readDigits()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			isFloat = true
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			if !isDigit(l.ch) {
				return Token{Type: TokenError, Literal: "malformed exponent in " + l.input[start:l.pos], Pos: pos}
			}
			l.readDigits()
		}
	}
	lit := l.input[start:l.pos]
	if isFloat {
		return Token{Type: TokenFloat, Literal: lit, Pos: pos}
	}
	return Token{Type: TokenInteger, Literal: lit, Pos: pos}
}

func (l *Lexer) readDigits() {
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
}

// readString reads a quoted string, decoding escapes. The literal holds the
// decoded value.
func (l *Lexer) readString(pos Position) Token {
	quote := l.ch
	l.readChar()
	var sb strings.Builder
	for l.ch != quote {
		switch l.ch {
		case 0, '\n':
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			case '0':
				sb.WriteRune(0)
			case '\\', '"', '\'':
				sb.WriteRune(l.ch)
			default:
				return Token{Type: TokenError, Literal: "unknown escape \\" + string(l.ch), Pos: pos}
			}
		default:
			sb.WriteRune(l.ch)
		}
		l.readChar()
	}
	l.readChar()
	return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
}

func isLetter(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch rune) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}
