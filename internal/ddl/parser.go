package ddl

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax is the sentinel wrapped by every ParseError.
var ErrSyntax = errors.New("ddl: syntax error")

// ParseError reports where a CREATE TABLE statement left the supported grammar.
type ParseError struct {
	Offset  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ddl: parse error at offset %d: %s", e.Offset, e.Message)
}

func (e *ParseError) Unwrap() error {
	return ErrSyntax
}

var columnModifiers = map[string]bool{
	"CONSTRAINT": true,
	"NOT":        true,
	"NULL":       true,
	"DEFAULT":    true,
	"PRIMARY":    true,
	"UNIQUE":     true,
	"CHECK":      true,
	"REFERENCES": true,
	"GENERATED":  true,
	"DEFERRABLE": true,
	"INITIALLY":  true,
}

// ParseCreateTable parses a single CREATE TABLE statement of the form
//
//	CREATE [TEMP|UNLOGGED] TABLE [IF NOT EXISTS] [schema.]name ( element [, ...] ) [;]
//
// where each element is a column definition or a table constraint.
func ParseCreateTable(source string) (TableSchema, error) {
	p := newParser(source)
	return p.parseCreateTable()
}

type parser struct {
	source string
	tokens []token
	pos    int
}

func newParser(source string) *parser {
	all := tokenize(source)
	tokens := make([]token, 0, len(all))
	for _, current := range all {
		if current.kind == tokenComment {
			continue
		}
		tokens = append(tokens, current)
	}
	return &parser{source: source, tokens: tokens}
}

func (p *parser) peek() token {
	if p.pos >= len(p.tokens) {
		return token{kind: tokenEOF, start: len(p.source), end: len(p.source)}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	current := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return current
}

func (p *parser) fail(at token, format string, args ...any) error {
	return &ParseError{Offset: at.start, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) expectWord(keyword string) error {
	current := p.next()
	if !current.isWord(keyword) {
		return p.fail(current, "expected %s, found %q", keyword, current.text)
	}
	return nil
}

func (p *parser) parseCreateTable() (TableSchema, error) {
	for _, current := range p.tokens {
		if current.unterminated {
			return TableSchema{}, p.fail(current, "unterminated literal")
		}
	}

	if err := p.expectWord("CREATE"); err != nil {
		return TableSchema{}, err
	}
	for {
		current := p.peek()
		if current.isWord("GLOBAL") || current.isWord("LOCAL") || current.isWord("TEMP") ||
			current.isWord("TEMPORARY") || current.isWord("UNLOGGED") {
			p.next()
			continue
		}
		break
	}
	if err := p.expectWord("TABLE"); err != nil {
		return TableSchema{}, err
	}
	if p.peek().isWord("IF") {
		p.next()
		if err := p.expectWord("NOT"); err != nil {
			return TableSchema{}, err
		}
		if err := p.expectWord("EXISTS"); err != nil {
			return TableSchema{}, err
		}
	}

	table := TableSchema{}
	name, err := p.identifier()
	if err != nil {
		return TableSchema{}, err
	}
	if p.peek().isPunct(".") {
		p.next()
		qualified, err := p.identifier()
		if err != nil {
			return TableSchema{}, err
		}
		table.Schema = name.Name()
		name = qualified
	}
	table.Name = name.Name()

	open := p.next()
	if !open.isPunct("(") {
		return TableSchema{}, p.fail(open, "expected ( after table name, found %q", open.text)
	}

	for {
		element, terminator, err := p.element()
		if err != nil {
			return TableSchema{}, err
		}
		if err := p.addElement(&table, element); err != nil {
			return TableSchema{}, err
		}
		if terminator.isPunct(")") {
			break
		}
	}

	if p.peek().isPunct(";") {
		p.next()
	}
	if trailing := p.peek(); trailing.kind != tokenEOF {
		return TableSchema{}, p.fail(trailing, "unsupported clause %q after table body", trailing.text)
	}
	if len(table.Columns) == 0 {
		return TableSchema{}, p.fail(open, "table %q has no columns", table.Name)
	}
	return table, nil
}

// element collects the tokens of one body element up to a top-level comma or
// the closing parenthesis, which is returned as terminator.
func (p *parser) element() ([]token, token, error) {
	start := p.pos
	depth := 0
	for {
		current := p.next()
		switch {
		case current.kind == tokenEOF:
			return nil, current, p.fail(current, "unterminated table body")
		case current.isPunct("("):
			depth++
		case current.isPunct(")") && depth > 0:
			depth--
		case depth == 0 && (current.isPunct(",") || current.isPunct(")")):
			tokens := p.tokens[start : p.pos-1]
			if len(tokens) == 0 {
				return nil, current, p.fail(current, "empty table element")
			}
			return tokens, current, nil
		}
	}
}

func (p *parser) addElement(table *TableSchema, tokens []token) error {
	first := tokens[0]
	switch {
	case first.isWord("CONSTRAINT"):
		if len(tokens) < 3 {
			return p.fail(first, "incomplete constraint")
		}
		name, err := identifierFrom(tokens[1])
		if err != nil {
			return err
		}
		constraint, err := p.constraint(tokens[2:])
		if err != nil {
			return err
		}
		constraint.Name = name.Name()
		table.Constraints = append(table.Constraints, constraint)
	case startsConstraint(tokens):
		constraint, err := p.constraint(tokens)
		if err != nil {
			return err
		}
		table.Constraints = append(table.Constraints, constraint)
	case first.isWord("LIKE"):
		return p.fail(first, "LIKE clauses are not supported")
	default:
		column, err := p.column(tokens)
		if err != nil {
			return err
		}
		if _, exists := table.Column(column.Name); exists {
			return p.fail(first, "duplicate column %q", column.Name)
		}
		table.Columns = append(table.Columns, column)
	}
	return nil
}

func startsConstraint(tokens []token) bool {
	first := tokens[0]
	switch {
	case first.isWord("PRIMARY"), first.isWord("FOREIGN"):
		return len(tokens) > 1 && tokens[1].isWord("KEY")
	case first.isWord("UNIQUE"), first.isWord("CHECK"), first.isWord("EXCLUDE"):
		return len(tokens) > 1 && (tokens[1].isPunct("(") || tokens[1].isWord("NULLS") || tokens[1].isWord("USING"))
	default:
		return false
	}
}

func (p *parser) constraint(tokens []token) (ConstraintDef, error) {
	first := tokens[0]
	constraint := ConstraintDef{Body: p.span(tokens)}
	var err error
	switch {
	case first.isWord("PRIMARY") && len(tokens) > 1 && tokens[1].isWord("KEY"):
		constraint.Kind = ConstraintPrimaryKey
		constraint.Columns, err = identifierList(tokens[2:])
		if err != nil {
			return ConstraintDef{}, err
		}
	case first.isWord("UNIQUE"):
		constraint.Kind = ConstraintUnique
		rest := tokens[1:]
		for len(rest) > 0 && (rest[0].isWord("NULLS") || rest[0].isWord("NOT") || rest[0].isWord("DISTINCT")) {
			rest = rest[1:]
		}
		if columns, listErr := identifierList(rest); listErr == nil {
			constraint.Columns = columns
		}
	case first.isWord("CHECK"):
		constraint.Kind = ConstraintCheck
	case first.isWord("FOREIGN") && len(tokens) > 1 && tokens[1].isWord("KEY"):
		constraint.Kind = ConstraintForeignKey
	case first.isWord("EXCLUDE"):
		constraint.Kind = ConstraintExclude
	default:
		return ConstraintDef{}, p.fail(first, "unsupported constraint %q", first.text)
	}
	return constraint, nil
}

func (p *parser) column(tokens []token) (ColumnDef, error) {
	name, err := identifierFrom(tokens[0])
	if err != nil {
		return ColumnDef{}, err
	}
	if len(tokens) < 2 {
		return ColumnDef{}, p.fail(tokens[0], "column %q has no type", name.Name())
	}
	clause := tokens[1:]
	column := ColumnDef{
		Name:       name.Name(),
		TypeClause: p.span(clause),
	}

	typeEnd := len(clause)
	depth := 0
	for index := 0; index < len(clause); index++ {
		current := clause[index]
		switch {
		case current.isPunct("(") || current.isPunct("["):
			depth++
			continue
		case current.isPunct(")") || current.isPunct("]"):
			depth--
			continue
		}
		if depth != 0 || !isModifierAt(clause, index) {
			continue
		}
		if typeEnd == len(clause) {
			typeEnd = index
		}
		switch {
		case current.isWord("NOT") && index+1 < len(clause) && clause[index+1].isWord("NULL"):
			column.NotNull = true
		case current.isWord("PRIMARY") && index+1 < len(clause) && clause[index+1].isWord("KEY"):
			column.PrimaryKey = true
			if index >= 2 && clause[index-2].isWord("CONSTRAINT") {
				keyName, err := identifierFrom(clause[index-1])
				if err != nil {
					return ColumnDef{}, err
				}
				column.PrimaryKeyName = keyName.Name()
			}
		case current.isWord("GENERATED"):
			column.Identity = isIdentityAt(clause, index)
		case current.isWord("DEFAULT"):
			end := defaultEnd(clause, index+1)
			if end == index+1 {
				return ColumnDef{}, p.fail(current, "column %q has an empty DEFAULT", column.Name)
			}
			column.Default = p.span(clause[index+1 : end])
			index = end - 1
		}
	}
	if typeEnd == 0 {
		return ColumnDef{}, p.fail(clause[0], "column %q has no type", column.Name)
	}
	column.Type = p.span(clause[:typeEnd])
	column.Definition = p.withoutInlineConstraints(clause)
	return column, nil
}

// withoutInlineConstraints renders clause with every column-level REFERENCES
// and PRIMARY KEY constraint removed, together with its CONSTRAINT name and
// trailing options.
func (p *parser) withoutInlineConstraints(clause []token) string {
	var builder strings.Builder
	segmentStart := 0
	for index := 0; index < len(clause); index++ {
		var end int
		switch {
		case clause[index].isWord("REFERENCES"):
			end = constraintEnd(clause, index+1)
		case clause[index].isWord("PRIMARY") && index+1 < len(clause) && clause[index+1].isWord("KEY"):
			end = constraintEnd(clause, index+2)
		default:
			continue
		}
		start := index
		if start >= 2 && clause[start-2].isWord("CONSTRAINT") {
			start -= 2
		}
		if start > segmentStart {
			appendSegment(&builder, p.span(clause[segmentStart:start]))
		}
		segmentStart = end
		index = end - 1
	}
	if segmentStart < len(clause) {
		appendSegment(&builder, p.span(clause[segmentStart:]))
	}
	return builder.String()
}

// constraintEnd returns the index of the next column constraint at or after
// start. Deferrability options belong to the constraint being skipped.
func constraintEnd(clause []token, start int) int {
	end := start
	for end < len(clause) {
		current := clause[end]
		if isModifierAt(clause, end) && !current.isWord("DEFERRABLE") && !current.isWord("INITIALLY") &&
			!(current.isWord("NOT") && end+1 < len(clause) && clause[end+1].isWord("DEFERRABLE")) {
			break
		}
		end++
	}
	return end
}

// isIdentityAt reports whether the GENERATED clause at index declares an
// identity column rather than a stored generated expression.
func isIdentityAt(clause []token, index int) bool {
	for next := index + 1; next < len(clause); next++ {
		current := clause[next]
		switch {
		case current.isWord("IDENTITY"):
			return true
		case current.isPunct("("), isModifierAt(clause, next):
			return false
		}
	}
	return false
}

func appendSegment(builder *strings.Builder, segment string) {
	if segment == "" {
		return
	}
	if builder.Len() > 0 {
		builder.WriteByte(' ')
	}
	builder.WriteString(segment)
}

// defaultEnd returns the index one past the DEFAULT expression starting at start.
func defaultEnd(clause []token, start int) int {
	depth := 0
	for index := start; index < len(clause); index++ {
		current := clause[index]
		switch {
		case current.isPunct("(") || current.isPunct("["):
			depth++
		case current.isPunct(")") || current.isPunct("]"):
			depth--
		case depth == 0 && index > start && isModifierAt(clause, index):
			return index
		}
	}
	return len(clause)
}

func isModifierAt(clause []token, index int) bool {
	current := clause[index]
	if current.kind != tokenWord || !columnModifiers[strings.ToUpper(current.text)] {
		return false
	}
	if current.isWord("NOT") {
		return index+1 < len(clause) && (clause[index+1].isWord("NULL") || clause[index+1].isWord("DEFERRABLE"))
	}
	// ON DELETE SET NULL / SET DEFAULT are referential actions.
	if (current.isWord("NULL") || current.isWord("DEFAULT")) && index > 0 && clause[index-1].isWord("SET") {
		return false
	}
	// GENERATED BY DEFAULT AS IDENTITY.
	if current.isWord("DEFAULT") && index > 0 && clause[index-1].isWord("BY") {
		return false
	}
	return true
}

// span returns the verbatim source text covered by tokens.
func (p *parser) span(tokens []token) string {
	if len(tokens) == 0 {
		return ""
	}
	return strings.TrimSpace(p.source[tokens[0].start:tokens[len(tokens)-1].end])
}

func (p *parser) identifier() (Identifier, error) {
	return identifierFrom(p.next())
}

func identifierFrom(current token) (Identifier, error) {
	switch current.kind {
	case tokenWord:
		return Identifier{Raw: current.text}, nil
	case tokenQuoted:
		inner := current.text[1 : len(current.text)-1]
		if inner == "" {
			return Identifier{}, &ParseError{Offset: current.start, Message: "empty quoted identifier"}
		}
		return Identifier{Raw: strings.ReplaceAll(inner, `""`, `"`), Quoted: true}, nil
	default:
		return Identifier{}, &ParseError{Offset: current.start, Message: fmt.Sprintf("expected identifier, found %q", current.text)}
	}
}

// identifierList parses "( ident [, ident ...] )" and ignores anything after
// the closing parenthesis (index parameters, deferrability).
func identifierList(tokens []token) ([]string, error) {
	if len(tokens) == 0 || !tokens[0].isPunct("(") {
		offset := 0
		if len(tokens) > 0 {
			offset = tokens[0].start
		}
		return nil, &ParseError{Offset: offset, Message: "expected column list"}
	}
	names := make([]string, 0)
	expectName := true
	for _, current := range tokens[1:] {
		switch {
		case expectName:
			identifier, err := identifierFrom(current)
			if err != nil {
				return nil, err
			}
			names = append(names, identifier.Name())
			expectName = false
		case current.isPunct(","):
			expectName = true
		case current.isPunct(")"):
			return names, nil
		default:
			return nil, &ParseError{Offset: current.start, Message: fmt.Sprintf("unexpected %q in column list", current.text)}
		}
	}
	return nil, &ParseError{Offset: tokens[len(tokens)-1].end, Message: "unterminated column list"}
}
