package corpus

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is a single word of a sentence.
type Token struct {
	Term      string
	Position  int
	StartByte int
	EndByte   int
}

// Analyzer turns text into tokens.
type Analyzer interface {
	Analyze(text string) []Token
}

// StandardAnalyzer splits on Unicode word boundaries and lowercases terms.
type StandardAnalyzer struct{}

// NewStandardAnalyzer creates a new StandardAnalyzer.
func NewStandardAnalyzer() *StandardAnalyzer {
	return &StandardAnalyzer{}
}

// Analyze implements Analyzer.
func (a *StandardAnalyzer) Analyze(text string) []Token {
	var tokens []Token
	pos := 0
	i := 0

	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isWordRune(r) {
			i += size
			continue
		}

		start := i
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if !isWordRune(r) {
				break
			}
			i += size
		}

		term := strings.ToLower(text[start:i])
		tokens = append(tokens, Token{
			Term:      term,
			Position:  pos,
			StartByte: start,
			EndByte:   i,
		})
		pos++
	}

	return tokens
}

// Terms returns only the token terms of text.
func Terms(a Analyzer, text string) []string {
	tokens := a.Analyze(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
