// Package tokenizer provides the single text tokenisation used for report
// titles, report content and search queries. Indexing and querying must go
// through the same function or terms will never match.
//
// ASCII letters are lower-cased. Runes other than ASCII letters, digits,
// underscore and CJK ideographs (U+4E00..U+9FA5) separate tokens, and so
// does a switch between an ideograph run and an alphanumeric run, which
// keeps "2025年AI发展" from becoming one opaque term. Tokens shorter than two
// runes are dropped.
package tokenizer

import "unicode/utf8"

// Token represents a single normalised term and its position in the
// token stream.
type Token struct {
	Term     string
	Position int
}

type class uint8

const (
	separator class = iota
	word
	ideograph
)

func classify(r rune) class {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return word
	case r >= 0x4E00 && r <= 0x9FA5:
		return ideograph
	default:
		return separator
	}
}

// Tokenize breaks text into normalised Tokens in input order. Duplicates are
// kept.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/6)
	buf := make([]byte, 0, 32)
	runes := 0
	cur := separator

	flush := func() {
		if runes >= 2 {
			tokens = append(tokens, Token{Term: string(buf), Position: len(tokens)})
		}
		buf = buf[:0]
		runes = 0
	}

	for _, r := range text {
		c := classify(r)
		if c != cur {
			flush()
			cur = c
		}
		if c == separator {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		buf = utf8.AppendRune(buf, r)
		runes++
	}
	flush()
	return tokens
}

// Terms returns the token strings of text in order, duplicates included.
func Terms(text string) []string {
	tokens := Tokenize(text)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

// Unique returns the distinct terms of text in order of first appearance.
func Unique(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, dup := seen[t.Term]; dup {
			continue
		}
		seen[t.Term] = struct{}{}
		out = append(out, t.Term)
	}
	return out
}
