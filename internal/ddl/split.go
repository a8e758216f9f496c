package ddl

import "strings"

// StatementKind tags a top-level chunk of DDL text.
type StatementKind string

const (
	// StatementCreateTable is a CREATE TABLE block handed to the table parser.
	StatementCreateTable StatementKind = "create_table"
	// StatementPassthrough is re-emitted unchanged.
	StatementPassthrough StatementKind = "passthrough"
)

const (
	markerAddForeignKey = "addforeignkey"
	markerCreateIndex   = "createindex"
)

// Statement is one top-level chunk of DDL text.
type Statement struct {
	Kind StatementKind
	Text string
}

// Split breaks DDL text into top-level statements, drops foreign-key ALTER
// TABLE statements and CREATE [UNIQUE] INDEX statements together with their
// "-- AddForeignKey" / "-- CreateIndex" markers, and tags what remains.
func Split(source string) []Statement {
	chunks := splitChunks(source)
	kept := make([]chunk, 0, len(chunks))
	for _, current := range chunks {
		if current.kind == chunkForeignKey || current.kind == chunkIndex {
			if len(kept) > 0 && kept[len(kept)-1].marks(current.kind) {
				kept = kept[:len(kept)-1]
			}
			continue
		}
		kept = append(kept, current)
	}

	statements := make([]Statement, 0, len(kept))
	for _, current := range kept {
		kind := StatementPassthrough
		if current.kind == chunkCreateTable {
			kind = StatementCreateTable
		}
		statements = append(statements, Statement{Kind: kind, Text: current.text})
	}
	return statements
}

type chunkKind int

const (
	chunkOther chunkKind = iota
	chunkComment
	chunkCreateTable
	chunkForeignKey
	chunkIndex
)

type chunk struct {
	kind chunkKind
	text string
}

func (c chunk) marks(kind chunkKind) bool {
	if c.kind != chunkComment {
		return false
	}
	marker := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(c.text, "--")))
	switch kind {
	case chunkForeignKey:
		return marker == markerAddForeignKey
	case chunkIndex:
		return marker == markerCreateIndex
	default:
		return false
	}
}

// splitChunks cuts source at every line that starts, outside parentheses,
// with a "--" comment or a CREATE/ALTER/DROP keyword.
func splitChunks(source string) []chunk {
	tokens := tokenize(source)
	chunks := make([]chunk, 0)
	depth := 0
	chunkStart := 0
	firstToken := -1

	flush := func(end, next int) {
		text := strings.TrimSpace(source[chunkStart:end])
		if text != "" && firstToken >= 0 {
			chunks = append(chunks, chunk{kind: classifyChunk(tokens[firstToken:next], text), text: text})
		}
		chunkStart = end
		firstToken = -1
	}

	for index, current := range tokens {
		if depth == 0 && current.firstOnLine && startsStatement(current) {
			flush(current.start, index)
		}
		if firstToken < 0 {
			firstToken = index
		}
		switch {
		case current.isPunct("("):
			depth++
		case current.isPunct(")") && depth > 0:
			depth--
		}
	}
	flush(len(source), len(tokens))
	return chunks
}

func startsStatement(current token) bool {
	if current.kind == tokenComment {
		return strings.HasPrefix(current.text, "--")
	}
	return current.isWord("CREATE") || current.isWord("ALTER") || current.isWord("DROP")
}

func classifyChunk(tokens []token, text string) chunkKind {
	if tokens[0].kind == tokenComment && strings.HasPrefix(tokens[0].text, "--") && !strings.Contains(text, "\n") {
		return chunkComment
	}
	words := leadingWords(tokens, 6)
	switch {
	case isCreateTable(words):
		return chunkCreateTable
	case len(words) >= 2 && words[0] == "CREATE" && (words[1] == "INDEX" || len(words) >= 3 && words[1] == "UNIQUE" && words[2] == "INDEX"):
		return chunkIndex
	case len(words) >= 2 && words[0] == "ALTER" && words[1] == "TABLE" && containsForeignKey(tokens):
		return chunkForeignKey
	default:
		return chunkOther
	}
}

func leadingWords(tokens []token, limit int) []string {
	words := make([]string, 0, limit)
	for _, current := range tokens {
		if len(words) == limit {
			break
		}
		if current.kind == tokenComment {
			continue
		}
		if current.kind != tokenWord {
			break
		}
		words = append(words, strings.ToUpper(current.text))
	}
	return words
}

func isCreateTable(words []string) bool {
	if len(words) < 2 || words[0] != "CREATE" {
		return false
	}
	for _, word := range words[1:] {
		switch word {
		case "TABLE":
			return true
		case "GLOBAL", "LOCAL", "TEMP", "TEMPORARY", "UNLOGGED":
			continue
		default:
			return false
		}
	}
	return false
}

func containsForeignKey(tokens []token) bool {
	for index := 0; index+1 < len(tokens); index++ {
		if tokens[index].isWord("FOREIGN") && tokens[index+1].isWord("KEY") {
			return true
		}
	}
	return false
}
