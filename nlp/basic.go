package nlp

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/pemistahl/lingua-go"
)

var supported = map[string]lingua.Language{
	"de": lingua.German,
	"en": lingua.English,
	"fr": lingua.French,
	"es": lingua.Spanish,
	"it": lingua.Italian,
	"nl": lingua.Dutch,
	"pl": lingua.Polish,
	"tr": lingua.Turkish,
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{M}]+(?:['’-][\p{L}\p{M}]+)*|\p{N}+(?:[.,]\p{N}+)*|[^\s\p{L}\p{M}\p{N}]`)

// Basic is a rule-based analyzer. It tokenizes, lowercases lemmas, marks
// stop words and detects the document language with lingua. It has no
// parser, so Dep and Morph stay empty and edges point at the token itself.
type Basic struct {
	codes    []string
	detector lingua.LanguageDetector
}

// NewBasic builds an analyzer for the given ISO 639-1 codes. The first code
// is used when detection is inconclusive.
func NewBasic(codes ...string) (*Basic, error) {
	if len(codes) == 0 {
		codes = []string{"de", "en"}
	}
	codes = append([]string(nil), codes...)

	var langs []lingua.Language
	for i, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		lang, ok := supported[code]
		if !ok {
			return nil, fmt.Errorf("unsupported language %q", code)
		}
		codes[i] = code
		langs = append(langs, lang)
	}

	b := &Basic{codes: codes}
	// lingua needs at least two candidates.
	if len(langs) > 1 {
		b.detector = lingua.NewLanguageDetectorBuilder().FromLanguages(langs...).Build()
	}
	return b, nil
}

// Analyze implements Analyzer.
func (b *Basic) Analyze(ctx context.Context, text string) (*Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lang := b.detect(text)
	stop := stopWords[lang]

	matches := tokenPattern.FindAllString(text, -1)
	doc := &Doc{Lang: lang, Tokens: make([]Token, 0, len(matches))}
	for i, m := range matches {
		lower := strings.ToLower(m)
		tok := Token{
			Text:      m,
			Index:     i,
			Lemma:     lower,
			Shape:     Shape(m),
			IsStop:    stop[lower],
			LeftEdge:  i,
			RightEdge: i,
			IsAlpha:   isAll(m, unicode.IsLetter),
			IsDigit:   isAll(m, unicode.IsDigit),
			Lang:      lang,
		}
		switch {
		case tok.IsDigit:
			tok.POS = "NUM"
		case isAll(m, unicode.IsPunct) || isAll(m, unicode.IsSymbol):
			tok.POS = "PUNCT"
		default:
			tok.POS = "X"
		}
		tok.Tag = tok.POS
		doc.Tokens = append(doc.Tokens, tok)
	}
	return doc, nil
}

func (b *Basic) detect(text string) string {
	if b.detector == nil || strings.TrimSpace(text) == "" {
		return b.codes[0]
	}
	lang, ok := b.detector.DetectLanguageOf(text)
	if !ok {
		return b.codes[0]
	}
	for code, l := range supported {
		if l == lang {
			return code
		}
	}
	return b.codes[0]
}

// Shape maps a token to its orthographic shape: X for upper case, x for
// lower case, d for digits, other characters kept. Runs longer than four
// are cut to four.
func Shape(s string) string {
	var b strings.Builder
	var last rune
	run := 0
	for _, r := range s {
		var c rune
		switch {
		case unicode.IsUpper(r):
			c = 'X'
		case unicode.IsLetter(r):
			c = 'x'
		case unicode.IsDigit(r):
			c = 'd'
		default:
			c = r
		}
		if c == last {
			run++
		} else {
			last, run = c, 1
		}
		if run <= 4 {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func isAll(s string, pred func(rune) bool) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !pred(r) {
			return false
		}
	}
	return true
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var stopWords = map[string]map[string]bool{
	"de": set("der", "die", "das", "den", "dem", "des", "ein", "eine", "einer",
		"eines", "einem", "einen", "und", "oder", "aber", "in", "im", "an", "am",
		"auf", "aus", "bei", "mit", "nach", "von", "vom", "zu", "zum", "zur",
		"für", "über", "unter", "ist", "sind", "war", "waren", "wird", "werden",
		"hat", "haben", "nicht", "auch", "es", "er", "sie", "wir", "ich", "du",
		"ihr", "sich", "als", "wie", "dass", "so", "noch", "nur", "schon"),
	"en": set("the", "a", "an", "and", "or", "but", "in", "on", "at", "of",
		"to", "for", "with", "by", "from", "is", "are", "was", "were", "be",
		"been", "has", "have", "had", "not", "it", "he", "she", "we", "i",
		"you", "they", "as", "that", "this", "so", "also"),
}
