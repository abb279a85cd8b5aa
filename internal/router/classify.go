package router

import "strings"

// Kind is the routing class of a SQL statement.
type Kind int

const (
	Read Kind = iota
	Write
)

func (k Kind) String() string {
	if k == Write {
		return "write"
	}
	return "read"
}

var writeKeywords = []string{"INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER", "TRUNCATE"}

// Classify decides whether a statement may run on the replica.
//
// It is a token heuristic, not a parser. Statements that start with SELECT are
// reads even when they end in FOR UPDATE, write keywords hidden in comments or
// glued to punctuation are not seen, and anything unrecognised is a read.
func Classify(statement string) Kind {
	// 1. Normalize: collapse whitespace and uppercase
	tokens := strings.Fields(strings.ToUpper(statement))
	if len(tokens) == 0 {
		return Read
	}
	normalized := strings.Join(tokens, " ")

	// 2. SELECT always goes to the replica
	if strings.HasPrefix(normalized, "SELECT") {
		return Read
	}

	// 3. Leading verb or any standalone write token
	for _, keyword := range writeKeywords {
		if strings.HasPrefix(normalized, keyword) {
			return Write
		}
	}
	for _, token := range tokens[1:] {
		for _, keyword := range writeKeywords {
			if token == keyword {
				return Write
			}
		}
	}

	// 4. Unknown statements fail open toward the replica
	return Read
}
