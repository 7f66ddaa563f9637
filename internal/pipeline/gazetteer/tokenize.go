package gazetteer

import "regexp"

// TokenKind classifies a token produced by [Tokenize].
type TokenKind int

const (
	// KindWord is a run of Unicode word characters.
	KindWord TokenKind = iota

	// KindSpace is a run of whitespace characters.
	KindSpace

	// KindPunct is a single punctuation or symbol character.
	KindPunct
)

// Token is one unit of a tokenized segment text.
type Token struct {
	// Text is the raw slice of the input this token covers.
	Text string

	// Kind classifies the token.
	Kind TokenKind
}

// The three alternatives partition the full character space (word chars,
// whitespace, everything else one rune at a time), which is what makes the
// split lossless.
// \p{Z} widens Go's ASCII-only \s to Unicode separators such as U+00A0.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+|[\s\p{Z}]+|[^\p{L}\p{N}_\s\p{Z}]`)

// Tokenize splits text into word runs, whitespace runs, and single
// punctuation characters. Concatenating the Text of every token in order
// reconstructs text byte for byte; untouched tokens therefore produce
// byte-identical output downstream.
func Tokenize(text string) []Token {
	matches := tokenPattern.FindAllString(text, -1)
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, Token{Text: m, Kind: classify(m)})
	}
	return tokens
}

func classify(s string) TokenKind {
	r := []rune(s)[0]
	switch {
	case isWordRune(r):
		return KindWord
	case isSpaceRune(r):
		return KindSpace
	default:
		return KindPunct
	}
}

func isWordRune(r rune) bool {
	return r == '_' ||
		('0' <= r && r <= '9') ||
		('a' <= r && r <= 'z') ||
		('A' <= r && r <= 'Z') ||
		r > 127 && tokenWordClass.MatchString(string(r))
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' ||
		r > 127 && tokenSpaceClass.MatchString(string(r))
}

var (
	tokenWordClass  = regexp.MustCompile(`[\p{L}\p{N}_]`)
	tokenSpaceClass = regexp.MustCompile(`[\s\p{Z}]`)
)
