package sqltemplate

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Paging selects the row-window syntax a dialect understands.
type Paging int

const (
	// OffsetFetch is ANSI OFFSET n ROWS FETCH NEXT m ROWS ONLY.
	OffsetFetch Paging = iota
	// LimitOffset is LIMIT m OFFSET n.
	LimitOffset
)

// Dialect describes how a database driver expects SQL to be written.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	Paging      Paging
}

var (
	SQLServer = Dialect{Name: "sqlserver", Placeholder: sq.AtP, Paging: OffsetFetch}
	Postgres  = Dialect{Name: "postgres", Placeholder: sq.Dollar, Paging: OffsetFetch}
	MySQL     = Dialect{Name: "mysql", Placeholder: sq.Question, Paging: LimitOffset}
	SQLite    = Dialect{Name: "sqlite3", Placeholder: sq.Question, Paging: LimitOffset}
)

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlserver", "mssql":
		return SQLServer, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// innerMarker stands in for the wrapped statement while squirrel builds the
// paging shell.
const innerMarker = "galaxy_inner_statement"

// Paginate wraps the statement in an ordered, windowed outer SELECT and
// returns the result as a new Statement. Page numbers start at 0.
func (s *Statement) Paginate(d Dialect, key string, size, number int) (*Statement, error) {
	if size <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", size)
	}
	if number < 0 {
		return nil, fmt.Errorf("page number must not be negative, got %d", number)
	}
	offset := uint64(number) * uint64(size)

	shell := sq.Select("*").
		From("(" + innerMarker + ") q").
		OrderBy(key)
	switch d.Paging {
	case LimitOffset:
		shell = shell.Limit(uint64(size)).Offset(offset)
	default:
		shell = shell.Suffix(fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, size))
	}
	text, _, err := shell.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build paging query: %w", err)
	}

	outer := Lex(text)
	tokens := make([]Token, 0, len(outer)+len(s.tokens))
	for _, tok := range outer {
		if tok.Kind == Word && tok.Text == innerMarker {
			tokens = append(tokens, s.tokens...)
			continue
		}
		tokens = append(tokens, tok)
	}
	return &Statement{tokens: tokens, static: s.static, nextArg: s.nextArg}, nil
}

// Render emits driver SQL. order[i] is the logical argument index bound to
// the i-th positional marker.
func (s *Statement) Render(d Dialect) (string, []int, error) {
	escape := d.Placeholder != sq.Question
	var b strings.Builder
	var order []int
	for _, tok := range s.tokens {
		if tok.Kind == Placeholder {
			b.WriteByte('?')
			order = append(order, tok.Arg)
			continue
		}
		if escape && strings.Contains(tok.Text, "?") {
			b.WriteString(strings.ReplaceAll(tok.Text, "?", "??"))
			continue
		}
		b.WriteString(tok.Text)
	}
	text, err := d.Placeholder.ReplacePlaceholders(b.String())
	if err != nil {
		return "", nil, fmt.Errorf("failed to render placeholders: %w", err)
	}
	return text, order, nil
}

// BindArgs orders logical arguments for the rendered SQL.
func BindArgs(order []int, logical []any) ([]any, error) {
	args := make([]any, len(order))
	for i, idx := range order {
		if idx < 0 || idx >= len(logical) {
			return nil, fmt.Errorf("placeholder %d refers to argument %d of %d", i, idx, len(logical))
		}
		args[i] = logical[idx]
	}
	return args, nil
}
