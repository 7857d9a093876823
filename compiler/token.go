package compiler

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Token types for the kernel language lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenNewline

	// Literals
	TokenInteger    // 42, 0x2a
	TokenFloat      // 3.14, 1.5e10
	TokenString     // "hello", 'hello'
	TokenIdentifier // foo, Bar

	// Operators
	TokenPlus        // +
	TokenMinus       // -
	TokenStar        // *
	TokenSlash       // /
	TokenSlashSlash  // //
	TokenPercent     // %
	TokenEq          // ==
	TokenNotEq       // !=
	TokenLess        // <
	TokenLessEq      // <=
	TokenGreater     // >
	TokenGreaterEq   // >=
	TokenAssign      // =
	TokenPlusAssign  // +=
	TokenMinusAssign // -=
	TokenStarAssign  // *=

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenComma     // ,
	TokenDot       // .
	TokenSemicolon // ;

	// Reserved words
	TokenKernel
	TokenRPC
	TokenRecord
	TokenException
	TokenIf
	TokenElif
	TokenElse
	TokenWhile
	TokenFor
	TokenIn
	TokenBreak
	TokenContinue
	TokenReturn
	TokenPass
	TokenRaise
	TokenTry
	TokenExcept
	TokenFinally
	TokenAs
	TokenParallel
	TokenSequential
	TokenAnd
	TokenOr
	TokenNot
	TokenTrue
	TokenFalse
	TokenNone
	TokenSelf
)

var tokenNames = map[TokenType]string{
	TokenEOF:         "EOF",
	TokenError:       "ERROR",
	TokenNewline:     "NEWLINE",
	TokenInteger:     "INTEGER",
	TokenFloat:       "FLOAT",
	TokenString:      "STRING",
	TokenIdentifier:  "IDENTIFIER",
	TokenPlus:        "+",
	TokenMinus:       "-",
	TokenStar:        "*",
	TokenSlash:       "/",
	TokenSlashSlash:  "//",
	TokenPercent:     "%",
	TokenEq:          "==",
	TokenNotEq:       "!=",
	TokenLess:        "<",
	TokenLessEq:      "<=",
	TokenGreater:     ">",
	TokenGreaterEq:   ">=",
	TokenAssign:      "=",
	TokenPlusAssign:  "+=",
	TokenMinusAssign: "-=",
	TokenStarAssign:  "*=",
	TokenLParen:      "(",
	TokenRParen:      ")",
	TokenLBracket:    "[",
	TokenRBracket:    "]",
	TokenLBrace:      "{",
	TokenRBrace:      "}",
	TokenComma:       ",",
	TokenDot:         ".",
	TokenSemicolon:   ";",
	TokenKernel:      "kernel",
	TokenRPC:         "rpc",
	TokenRecord:      "record",
	TokenException:   "exception",
	TokenIf:          "if",
	TokenElif:        "elif",
	TokenElse:        "else",
	TokenWhile:       "while",
	TokenFor:         "for",
	TokenIn:          "in",
	TokenBreak:       "break",
	TokenContinue:    "continue",
	TokenReturn:      "return",
	TokenPass:        "pass",
	TokenRaise:       "raise",
	TokenTry:         "try",
	TokenExcept:      "except",
	TokenFinally:     "finally",
	TokenAs:          "as",
	TokenParallel:    "parallel",
	TokenSequential:  "sequential",
	TokenAnd:         "and",
	TokenOr:          "or",
	TokenNot:         "not",
	TokenTrue:        "true",
	TokenFalse:       "false",
	TokenNone:        "none",
	TokenSelf:        "self",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types. The capitalised constants are
// accepted as aliases.
var reservedWords = map[string]TokenType{
	"kernel":     TokenKernel,
	"rpc":        TokenRPC,
	"record":     TokenRecord,
	"exception":  TokenException,
	"if":         TokenIf,
	"elif":       TokenElif,
	"else":       TokenElse,
	"while":      TokenWhile,
	"for":        TokenFor,
	"in":         TokenIn,
	"break":      TokenBreak,
	"continue":   TokenContinue,
	"return":     TokenReturn,
	"pass":       TokenPass,
	"raise":      TokenRaise,
	"try":        TokenTry,
	"except":     TokenExcept,
	"finally":    TokenFinally,
	"as":         TokenAs,
	"parallel":   TokenParallel,
	"sequential": TokenSequential,
	"and":        TokenAnd,
	"or":         TokenOr,
	"not":        TokenNot,
	"true":       TokenTrue,
	"false":      TokenFalse,
	"none":       TokenNone,
	"True":       TokenTrue,
	"False":      TokenFalse,
	"None":       TokenNone,
	"self":       TokenSelf,
}

// LookupIdent returns the token type for an identifier, checking reserved words.
func LookupIdent(ident string) TokenType {
	if tok, ok := reservedWords[ident]; ok {
		return tok
	}
	return TokenIdentifier
}

// Keywords returns the reserved words in sorted order.
func Keywords() []string {
	out := make([]string, 0, len(reservedWords))
	for w := range reservedWords {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
