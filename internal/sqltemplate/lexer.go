// Package sqltemplate rewrites endpoint SQL: it injects filter predicates,
// wraps statements for paging and renders driver placeholders.
//
// The package works on a token stream rather than a parse tree. Tokens are
// precise enough to keep string literals, comments and quoted identifiers
// intact and to find top-level clauses; anything it cannot analyze is reported
// as unsupported instead of guessed at.
package sqltemplate

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind classifies a lexed token.
type TokenKind int

const (
	Whitespace TokenKind = iota
	Comment
	String
	QuotedIdent
	Word
	Number
	Placeholder
	Punct
)

var tokenKindNames = [...]string{"whitespace", "comment", "string", "quoted-ident", "word", "number", "placeholder", "punct"}

func (k TokenKind) String() string {
	if int(k) < len(tokenKindNames) {
		return tokenKindNames[k]
	}
	return "unknown"
}

// PlaceholderText is the marker endpoint SQL uses for bound values.
const PlaceholderText = "%s"

// Token is one lexical unit of SQL text.
type Token struct {
	Kind TokenKind
	Text string
	// Arg is the logical argument index of a placeholder, -1 until numbered.
	Arg int
	// Unterminated marks a string, quoted identifier or block comment that
	// runs to the end of input.
	Unterminated bool
}

// Significant reports whether the token carries syntax.
func (t Token) Significant() bool {
	return t.Kind != Whitespace && t.Kind != Comment
}

// IsWord reports whether the token is the given keyword, case-insensitively.
func (t Token) IsWord(keyword string) bool {
	return t.Kind == Word && strings.EqualFold(t.Text, keyword)
}

// IsPunct reports whether the token is the given punctuation.
func (t Token) IsPunct(p string) bool {
	return t.Kind == Punct && t.Text == p
}

// Lex splits text into tokens. Concatenating every token's Text yields the
// input unchanged. Lex never fails.
func Lex(text string) []Token {
	var tokens []Token
	i := 0
	for i < len(text) {
		start := i
		kind, end, unterminated := scan(text, i)
		tokens = append(tokens, Token{Kind: kind, Text: text[start:end], Arg: -1, Unterminated: unterminated})
		i = end
	}
	return tokens
}

func scan(text string, i int) (TokenKind, int, bool) {
	c := text[i]
	switch {
	case c == '-' && peek(text, i+1) == '-':
		end := strings.IndexByte(text[i:], '\n')
		if end < 0 {
			return Comment, len(text), false
		}
		return Comment, i + end, false
	case c == '/' && peek(text, i+1) == '*':
		end := strings.Index(text[i+2:], "*/")
		if end < 0 {
			return Comment, len(text), true
		}
		return Comment, i + 2 + end + 2, false
	case c == '\'':
		end, ok := scanQuoted(text, i+1, '\'')
		return String, end, !ok
	case (c == 'N' || c == 'n') && peek(text, i+1) == '\'':
		end, ok := scanQuoted(text, i+2, '\'')
		return String, end, !ok
	case c == '"':
		end, ok := scanQuoted(text, i+1, '"')
		return QuotedIdent, end, !ok
	case c == '`':
		end, ok := scanQuoted(text, i+1, '`')
		return QuotedIdent, end, !ok
	case c == '[':
		end, ok := scanQuoted(text, i+1, ']')
		return QuotedIdent, end, !ok
	case c == '%' && peek(text, i+1) == 's':
		return Placeholder, i + 2, false
	case c >= '0' && c <= '9':
		j := i + 1
		for j < len(text) && (isDigit(text[j]) || text[j] == '.' || isASCIILetter(text[j])) {
			j++
		}
		return Number, j, false
	}

	r, size := utf8.DecodeRuneInString(text[i:])
	switch {
	case unicode.IsSpace(r):
		j := i + size
		for j < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r2) {
				break
			}
			j += s2
		}
		return Whitespace, j, false
	case isWordStart(r):
		j := i + size
		for j < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !isWordPart(r2) {
				break
			}
			j += s2
		}
		return Word, j, false
	}
	return Punct, i + size, false
}

// scanQuoted returns the index just past the closing quote. A doubled quote
// is an escaped quote.
func scanQuoted(text string, i int, quote byte) (int, bool) {
	for i < len(text) {
		if text[i] == quote {
			if peek(text, i+1) == quote {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return len(text), false
}

func peek(text string, i int) byte {
	if i < len(text) {
		return text[i]
	}
	return 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordStart(r rune) bool {
	return r == '_' || r == '@' || r == '#' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return isWordStart(r) || r == '$' || unicode.IsDigit(r)
}

// CountPlaceholders counts bound-value markers outside literals and comments.
func CountPlaceholders(text string) int {
	n := 0
	for _, tok := range Lex(text) {
		if tok.Kind == Placeholder {
			n++
		}
	}
	return n
}

func join(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(tok.Text)
	}
	return b.String()
}
