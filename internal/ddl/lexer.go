package ddl

import "strings"

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenWord
	tokenQuoted
	tokenString
	tokenNumber
	tokenPunct
	tokenOperator
	tokenComment
)

// token is a lexical unit of DDL text. start/end are byte offsets into the source.
type token struct {
	kind         tokenKind
	text         string
	start        int
	end          int
	firstOnLine  bool
	unterminated bool
}

func (t token) isWord(keyword string) bool {
	return t.kind == tokenWord && strings.EqualFold(t.text, keyword)
}

func (t token) isPunct(value string) bool {
	return t.kind == tokenPunct && t.text == value
}

// tokenize never fails: unterminated literals run to end of input and are
// flagged so the parser can reject them while the splitter still makes progress.
func tokenize(source string) []token {
	lexer := &lexer{source: source, lineStart: true}
	return lexer.run()
}

type lexer struct {
	source    string
	pos       int
	lineStart bool
	tokens    []token
}

func (l *lexer) run() []token {
	for l.pos < len(l.source) {
		ch := l.source[l.pos]
		switch {
		case ch == '\n':
			l.pos++
			l.lineStart = true
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\f':
			l.pos++
		case ch == '-' && l.peek(1) == '-':
			l.lineComment()
		case ch == '/' && l.peek(1) == '*':
			l.blockComment()
		case ch == '"':
			l.quoted('"', tokenQuoted)
		case ch == '\'':
			l.quoted('\'', tokenString)
		case (ch == 'E' || ch == 'e') && l.peek(1) == '\'':
			l.escapedString()
		case ch == '$' && l.dollarTag() != "":
			l.dollarString()
		case isIdentStart(ch):
			l.word()
		case isDigit(ch) || (ch == '.' && isDigit(l.peek(1))):
			l.number()
		case ch == '(' || ch == ')' || ch == ',' || ch == ';' || ch == '.' || ch == '[' || ch == ']':
			l.emit(tokenPunct, l.pos, l.pos+1, false)
		default:
			l.operator()
		}
	}
	return l.tokens
}

func (l *lexer) peek(offset int) byte {
	if l.pos+offset >= len(l.source) {
		return 0
	}
	return l.source[l.pos+offset]
}

func (l *lexer) emit(kind tokenKind, start, end int, unterminated bool) {
	l.tokens = append(l.tokens, token{
		kind:         kind,
		text:         l.source[start:end],
		start:        start,
		end:          end,
		firstOnLine:  l.lineStart,
		unterminated: unterminated,
	})
	l.lineStart = false
	l.pos = end
}

func (l *lexer) lineComment() {
	end := strings.IndexByte(l.source[l.pos:], '\n')
	if end < 0 {
		l.emit(tokenComment, l.pos, len(l.source), false)
		return
	}
	l.emit(tokenComment, l.pos, l.pos+end, false)
}

func (l *lexer) blockComment() {
	end := strings.Index(l.source[l.pos+2:], "*/")
	if end < 0 {
		l.emit(tokenComment, l.pos, len(l.source), true)
		return
	}
	l.emit(tokenComment, l.pos, l.pos+2+end+2, false)
}

// quoted scans a delimiter-enclosed token where a doubled delimiter escapes itself.
func (l *lexer) quoted(delimiter byte, kind tokenKind) {
	start := l.pos
	index := l.pos + 1
	for index < len(l.source) {
		if l.source[index] == delimiter {
			if index+1 < len(l.source) && l.source[index+1] == delimiter {
				index += 2
				continue
			}
			l.emit(kind, start, index+1, false)
			return
		}
		index++
	}
	l.emit(kind, start, len(l.source), true)
}

func (l *lexer) escapedString() {
	start := l.pos
	index := l.pos + 2
	for index < len(l.source) {
		switch l.source[index] {
		case '\\':
			index += 2
			continue
		case '\'':
			if index+1 < len(l.source) && l.source[index+1] == '\'' {
				index += 2
				continue
			}
			l.emit(tokenString, start, index+1, false)
			return
		}
		index++
	}
	l.emit(tokenString, start, len(l.source), true)
}

// dollarTag returns the opening tag ("$$" or "$name$") at the current position, if any.
func (l *lexer) dollarTag() string {
	index := l.pos + 1
	for index < len(l.source) {
		ch := l.source[index]
		if ch == '$' {
			return l.source[l.pos : index+1]
		}
		if !isIdentPart(ch) || isDigit(ch) && index == l.pos+1 {
			return ""
		}
		index++
	}
	return ""
}

func (l *lexer) dollarString() {
	start := l.pos
	tag := l.dollarTag()
	body := start + len(tag)
	end := strings.Index(l.source[body:], tag)
	if end < 0 {
		l.emit(tokenString, start, len(l.source), true)
		return
	}
	l.emit(tokenString, start, body+end+len(tag), false)
}

func (l *lexer) word() {
	index := l.pos + 1
	for index < len(l.source) && isIdentPart(l.source[index]) {
		index++
	}
	l.emit(tokenWord, l.pos, index, false)
}

func (l *lexer) number() {
	index := l.pos
	for index < len(l.source) && (isDigit(l.source[index]) || l.source[index] == '.') {
		index++
	}
	if index < len(l.source) && (l.source[index] == 'e' || l.source[index] == 'E') {
		next := index + 1
		if next < len(l.source) && (l.source[next] == '+' || l.source[next] == '-') {
			next++
		}
		if next < len(l.source) && isDigit(l.source[next]) {
			index = next
			for index < len(l.source) && isDigit(l.source[index]) {
				index++
			}
		}
	}
	l.emit(tokenNumber, l.pos, index, false)
}

func (l *lexer) operator() {
	index := l.pos + 1
	for index < len(l.source) && strings.IndexByte("+-*/<>=~!@#%^&|`?:", l.source[index]) >= 0 {
		if l.source[index] == '-' && index+1 < len(l.source) && l.source[index+1] == '-' {
			break
		}
		if l.source[index] == '/' && index+1 < len(l.source) && l.source[index+1] == '*' {
			break
		}
		index++
	}
	l.emit(tokenOperator, l.pos, index, false)
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= 0x80
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
