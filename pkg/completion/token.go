package completion

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// token is the word under the cursor. From and To are byte offsets into the
// document; Text is doc[From:To].
type token struct {
	From, To int
	Text     string
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wordAt scans identifier characters backward and forward from cursor.
// The cursor may sit anywhere inside the word.
func wordAt(doc string, cursor int) (token, bool) {
	cursor = clampCursor(doc, cursor)
	from := cursor
	for from > 0 {
		r, size := utf8.DecodeLastRuneInString(doc[:from])
		if !isIdentRune(r) {
			break
		}
		from -= size
	}
	to := cursor
	for to < len(doc) {
		r, size := utf8.DecodeRuneInString(doc[to:])
		if !isIdentRune(r) {
			break
		}
		to += size
	}
	if from == to {
		return token{}, false
	}
	// A word starting with a digit is a number literal.
	if r, _ := utf8.DecodeRuneInString(doc[from:]); unicode.IsDigit(r) {
		return token{}, false
	}
	// Words inside a string literal or a [Column] reference are not function names.
	if inString(doc[:from]) || inBrackets(doc[:from]) {
		return token{}, false
	}
	return token{From: from, To: to, Text: doc[from:to]}, true
}

// columnRefAt finds an open [Column] reference around the cursor. From is
// the opening bracket; To is past the closing bracket when there is one on
// the same reference, otherwise the cursor. Text is the name typed so far.
func columnRefAt(doc string, cursor int) (token, bool) {
	cursor = clampCursor(doc, cursor)
	before := doc[:cursor]
	open := strings.LastIndexByte(before, '[')
	if open < 0 || strings.IndexByte(before[open:], ']') >= 0 || inString(before[:open]) {
		return token{}, false
	}
	to := cursor
	if end := strings.IndexAny(doc[cursor:], "[]"); end >= 0 && doc[cursor+end] == ']' {
		to = cursor + end + 1
	}
	return token{From: open, To: to, Text: strings.TrimLeft(before[open+1:], " ")}, true
}

// followedByCall reports whether the text after offset continues with an
// opening parenthesis, optionally after whitespace.
func followedByCall(doc string, offset int) bool {
	rest := strings.TrimLeft(doc[offset:], " \t\n")
	return strings.HasPrefix(rest, "(")
}

func clampCursor(doc string, cursor int) int {
	if cursor < 0 {
		return 0
	}
	if cursor > len(doc) {
		return len(doc)
	}
	return cursor
}

// inString reports whether prefix ends inside an unterminated quoted string.
func inString(prefix string) bool {
	var quote rune
	escaped := false
	for _, r := range prefix {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
		}
	}
	return quote != 0
}

func inBrackets(prefix string) bool {
	return strings.LastIndexByte(prefix, '[') > strings.LastIndexByte(prefix, ']')
}
