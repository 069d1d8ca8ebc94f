// Package cmdsys provides the shell-style argument splitter and the
// command registry used by the manager and by every bridge's command
// surface.
//
// Split is a port of original_source/yetibridge/parse.py and cmdsys.py's
// split(), which both implement the identical three-pass algorithm:
// resolve backslash escapes into literal characters, resolve quoted runs
// into literal characters, then split the remaining stream on whitespace,
// never treating a literal character as a separator even if its value is
// a space, tab, or quote.
package cmdsys

import "errors"

// ErrUnmatchedQuote is returned by Split when a double quote is never
// closed.
var ErrUnmatchedQuote = errors.New("unmatched quote")

// symbol is one character of the input, tagged with whether it came from
// an escape or a quoted span (literal) or is still a plain, unprocessed
// character that can act as a separator or quote.
type symbol struct {
	r       rune
	literal bool
}

// Split parses s into an ordered list of words using shell-like quoting
// rules:
//
//  1. A backslash makes the following character a literal (not a
//     separator, not a quote character). A trailing backslash with
//     nothing after it is dropped.
//  2. A double-quoted span is a literal segment that may contain spaces;
//     an unclosed quote is an error.
//  3. Remaining runs of non-whitespace (space or tab) form words.
//
// A literal character is joined into whatever word it is adjacent to,
// even across a quote boundary, so `a"b c"d` parses as the single word
// `ab cd`.
func Split(s string) ([]string, error) {
	runes := []rune(s)

	// Pass 1: escapes become literal symbols.
	escaped := make([]symbol, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' {
			if i+1 < len(runes) {
				i++
				escaped = append(escaped, symbol{r: runes[i], literal: true})
			}
			continue
		}
		escaped = append(escaped, symbol{r: runes[i]})
	}

	// Pass 2: quoted spans become literal symbols.
	quoted := make([]symbol, 0, len(escaped))
	for i := 0; i < len(escaped); i++ {
		if !escaped[i].literal && escaped[i].r == '"' {
			closed := false
			for i++; i < len(escaped); i++ {
				if !escaped[i].literal && escaped[i].r == '"' {
					closed = true
					break
				}
				quoted = append(quoted, symbol{r: escaped[i].r, literal: true})
			}
			if !closed {
				return nil, ErrUnmatchedQuote
			}
			continue
		}
		quoted = append(quoted, escaped[i])
	}

	// Pass 3: split the remaining stream on whitespace. A literal
	// character never acts as a separator, regardless of its value.
	var words []string
	var word []rune
	flush := func() {
		if len(word) > 0 {
			words = append(words, string(word))
			word = nil
		}
	}
	for _, sym := range quoted {
		if !sym.literal && (sym.r == ' ' || sym.r == '\t') {
			flush()
			continue
		}
		word = append(word, sym.r)
	}
	flush()

	return words, nil
}
