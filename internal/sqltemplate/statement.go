package sqltemplate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFiltersUnsupported is returned when filters cannot be injected safely.
// Callers degrade by running the statement without filters.
var ErrFiltersUnsupported = errors.New("filters are not supported for this statement")

// ErrInvalidFragment is returned for a filter condition that does not lex
// into a standalone predicate.
var ErrInvalidFragment = errors.New("invalid filter condition")

// clauseTerminators end a WHERE or FROM clause at the top level.
var clauseTerminators = map[string]bool{
	"GROUP":  true,
	"HAVING": true,
	"ORDER":  true,
	"LIMIT":  true,
	"OFFSET": true,
	"FETCH":  true,
	"FOR":    true,
	"WINDOW": true,
	"OPTION": true,
	"UNION":  true,
}

var setOperators = map[string]bool{
	"UNION":     true,
	"INTERSECT": true,
	"EXCEPT":    true,
}

// Statement is a mutable token stream for one SQL statement.
type Statement struct {
	tokens  []Token
	static  int
	nextArg int
}

// Parse lexes text, drops trailing semicolons, whitespace and comments, and
// numbers the placeholders 0..n-1 in text order.
func Parse(text string) *Statement {
	tokens := Lex(text)
	end := len(tokens)
	for end > 0 {
		tok := tokens[end-1]
		if tok.Significant() && !tok.IsPunct(";") {
			break
		}
		end--
	}
	tokens = tokens[:end]

	s := &Statement{tokens: tokens}
	for i := range s.tokens {
		if s.tokens[i].Kind == Placeholder {
			s.tokens[i].Arg = s.nextArg
			s.nextArg++
		}
	}
	s.static = s.nextArg
	return s
}

// StaticPlaceholders returns the number of placeholders in the parsed text.
func (s *Statement) StaticPlaceholders() int {
	return s.static
}

// ArgCount returns the number of logical arguments the statement binds.
func (s *Statement) ArgCount() int {
	return s.nextArg
}

// String returns the statement text with %s markers.
func (s *Statement) String() string {
	return join(s.tokens)
}

// Clone returns an independent copy.
func (s *Statement) Clone() *Statement {
	tokens := make([]Token, len(s.tokens))
	copy(tokens, s.tokens)
	return &Statement{tokens: tokens, static: s.static, nextArg: s.nextArg}
}

type analysis struct {
	reason    string
	start     int
	where     int
	from      int
	whereHasOr bool
}

func (a analysis) supported() bool {
	return a.reason == ""
}

// FiltersSupported reports whether AddFilters can modify the statement.
func (s *Statement) FiltersSupported() bool {
	return s.analyze().supported()
}

// UnsupportedReason explains why filters cannot be added, or returns "".
func (s *Statement) UnsupportedReason() string {
	return s.analyze().reason
}

func (s *Statement) analyze() analysis {
	a := analysis{start: -1, where: -1, from: -1}
	depth := 0
	for i, tok := range s.tokens {
		if tok.Unterminated {
			a.reason = fmt.Sprintf("unterminated %s", tok.Kind)
			return a
		}
		if !tok.Significant() {
			continue
		}
		if a.start < 0 {
			a.start = i
			if !tok.IsWord("SELECT") {
				a.reason = "statement is not a single SELECT"
				return a
			}
			continue
		}
		switch {
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			depth--
			if depth < 0 {
				a.reason = "unbalanced parentheses"
				return a
			}
		case tok.IsPunct(";"):
			a.reason = "multiple statements"
			return a
		case depth == 0 && tok.Kind == Word:
			upper := strings.ToUpper(tok.Text)
			switch {
			case setOperators[upper]:
				a.reason = "set operation " + upper
				return a
			case upper == "WHERE" && a.where < 0:
				a.where = i
			case upper == "FROM" && a.from < 0:
				a.from = i
			}
		}
	}
	if a.start < 0 {
		a.reason = "empty statement"
		return a
	}
	if depth != 0 {
		a.reason = "unbalanced parentheses"
		return a
	}
	if a.where >= 0 {
		a.whereHasOr = s.hasTopLevelWord(a.where+1, s.terminatorAfter(a.where), "OR")
	}
	return a
}

// terminatorAfter returns the index of the first top-level clause keyword
// after from, or len(tokens).
func (s *Statement) terminatorAfter(from int) int {
	depth := 0
	for i := from + 1; i < len(s.tokens); i++ {
		tok := s.tokens[i]
		switch {
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			depth--
		case depth == 0 && tok.Kind == Word:
			upper := strings.ToUpper(tok.Text)
			if !clauseTerminators[upper] {
				continue
			}
			if upper == "GROUP" || upper == "ORDER" {
				if next := s.nextSignificant(i); next < 0 || !s.tokens[next].IsWord("BY") {
					continue
				}
			}
			return i
		}
	}
	return len(s.tokens)
}

func (s *Statement) nextSignificant(i int) int {
	for j := i + 1; j < len(s.tokens); j++ {
		if s.tokens[j].Significant() {
			return j
		}
	}
	return -1
}

// insertionPoint returns the index just after the last significant token
// before limit.
func (s *Statement) insertionPoint(limit int) int {
	for i := limit - 1; i >= 0; i-- {
		if s.tokens[i].Significant() {
			return i + 1
		}
	}
	return 0
}

func (s *Statement) hasTopLevelWord(from, to int, word string) bool {
	depth := 0
	for i := from; i < to; i++ {
		tok := s.tokens[i]
		switch {
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			depth--
		case depth == 0 && tok.IsWord(word):
			return true
		}
	}
	return false
}

func (s *Statement) insert(at int, tokens ...Token) {
	s.tokens = append(s.tokens[:at], append(tokens, s.tokens[at:]...)...)
}

// AddFilters appends conditions to the top-level WHERE clause, joined with
// AND, or synthesizes a WHERE clause when there is none. Placeholders in the
// conditions are numbered after every existing argument, in order.
// An empty list leaves the statement unchanged.
func (s *Statement) AddFilters(conditions []string) error {
	if len(conditions) == 0 {
		return nil
	}
	a := s.analyze()
	if !a.supported() {
		return fmt.Errorf("%w: %s", ErrFiltersUnsupported, a.reason)
	}

	fragments := make([][]Token, 0, len(conditions))
	for _, cond := range conditions {
		frag, err := lexFragment(cond)
		if err != nil {
			return err
		}
		fragments = append(fragments, frag)
	}

	var predicate []Token
	for i, frag := range fragments {
		if i > 0 {
			predicate = append(predicate, space(), keyword("AND"), space())
		}
		for j := range frag {
			if frag[j].Kind == Placeholder {
				frag[j].Arg = s.nextArg
				s.nextArg++
			}
		}
		predicate = append(predicate, frag...)
	}

	if a.where >= 0 {
		at := s.insertionPoint(s.terminatorAfter(a.where))
		if a.whereHasOr {
			s.insert(at, punct(")"))
			s.insert(s.nextSignificant(a.where), punct("("))
			at += 2
		}
		s.insert(at, append([]Token{space(), keyword("AND"), space()}, predicate...)...)
		return nil
	}

	anchor := a.from
	if anchor < 0 {
		anchor = a.start
	}
	at := s.insertionPoint(s.terminatorAfter(anchor))
	s.insert(at, append([]Token{space(), keyword("WHERE"), space()}, predicate...)...)
	return nil
}

// lexFragment lexes a condition and trims surrounding whitespace. A condition
// with a top-level OR is parenthesised so AND-joining keeps its meaning.
func lexFragment(cond string) ([]Token, error) {
	if err := ValidateFragment(cond); err != nil {
		return nil, err
	}
	frag := &Statement{tokens: Lex(strings.TrimSpace(cond))}
	if frag.hasTopLevelWord(0, len(frag.tokens), "OR") {
		tokens := append([]Token{punct("(")}, frag.tokens...)
		return append(tokens, punct(")")), nil
	}
	return frag.tokens, nil
}

// ValidateFragment checks that a filter condition is a self-contained
// predicate: non-empty, terminated literals, balanced parentheses and no
// statement separators.
func ValidateFragment(cond string) error {
	depth := 0
	significant := false
	for _, tok := range Lex(cond) {
		if tok.Unterminated {
			return fmt.Errorf("%w: unterminated %s in %q", ErrInvalidFragment, tok.Kind, cond)
		}
		if tok.Kind == Comment && strings.HasPrefix(tok.Text, "--") {
			return fmt.Errorf("%w: line comment in %q", ErrInvalidFragment, cond)
		}
		if !tok.Significant() {
			continue
		}
		significant = true
		switch {
		case tok.IsPunct(";"):
			return fmt.Errorf("%w: statement separator in %q", ErrInvalidFragment, cond)
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced parentheses in %q", ErrInvalidFragment, cond)
			}
		}
	}
	if !significant {
		return fmt.Errorf("%w: empty condition", ErrInvalidFragment)
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced parentheses in %q", ErrInvalidFragment, cond)
	}
	return nil
}

func space() Token {
	return Token{Kind: Whitespace, Text: " ", Arg: -1}
}

func keyword(text string) Token {
	return Token{Kind: Word, Text: text, Arg: -1}
}

func punct(text string) Token {
	return Token{Kind: Punct, Text: text, Arg: -1}
}
