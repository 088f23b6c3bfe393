// Package nlp defines the text analysis step of the enrichment pass and
// ships a small lexical analyzer for it.
package nlp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Attribute names, one Processed column each.
const (
	AttrText      = "Text"
	AttrIndex     = "Index"
	AttrLemma     = "Lemma"
	AttrPOS       = "POS"
	AttrTag       = "Tag"
	AttrDep       = "Dep"
	AttrShape     = "Shape"
	AttrIsStop    = "IsStop"
	AttrLeftEdge  = "LeftEdge"
	AttrRightEdge = "RightEdge"
	AttrMorph     = "Morph"
	AttrSentiment = "Sentiment"
	AttrIsAlpha   = "IsAlpha"
	AttrIsDigit   = "IsDigit"
	AttrLang      = "Lang"
)

// Attributes lists every token attribute in column order.
var Attributes = []string{
	AttrText, AttrIndex, AttrLemma, AttrPOS, AttrTag, AttrDep, AttrShape,
	AttrIsStop, AttrLeftEdge, AttrRightEdge, AttrMorph, AttrSentiment,
	AttrIsAlpha, AttrIsDigit, AttrLang,
}

// Token is one analyzed token.
type Token struct {
	Text      string
	Index     int
	Lemma     string
	POS       string
	Tag       string
	Dep       string
	Shape     string
	IsStop    bool
	LeftEdge  int
	RightEdge int
	Morph     string
	Sentiment float64
	IsAlpha   bool
	IsDigit   bool
	Lang      string
}

// Doc is the analysis of one text.
type Doc struct {
	Lang   string
	Tokens []Token
}

// Analyzer turns text into tokens. Implementations may be expensive and
// should honor ctx.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*Doc, error)
}

// Columns encodes the doc as one JSON array per attribute, keyed by
// attribute name.
func (d *Doc) Columns() (map[string][]byte, error) {
	n := len(d.Tokens)
	cols := map[string]any{
		AttrText:      make([]string, n),
		AttrIndex:     make([]int, n),
		AttrLemma:     make([]string, n),
		AttrPOS:       make([]string, n),
		AttrTag:       make([]string, n),
		AttrDep:       make([]string, n),
		AttrShape:     make([]string, n),
		AttrIsStop:    make([]bool, n),
		AttrLeftEdge:  make([]int, n),
		AttrRightEdge: make([]int, n),
		AttrMorph:     make([]string, n),
		AttrSentiment: make([]float64, n),
		AttrIsAlpha:   make([]bool, n),
		AttrIsDigit:   make([]bool, n),
		AttrLang:      make([]string, n),
	}
	for i, tok := range d.Tokens {
		cols[AttrText].([]string)[i] = tok.Text
		cols[AttrIndex].([]int)[i] = tok.Index
		cols[AttrLemma].([]string)[i] = tok.Lemma
		cols[AttrPOS].([]string)[i] = tok.POS
		cols[AttrTag].([]string)[i] = tok.Tag
		cols[AttrDep].([]string)[i] = tok.Dep
		cols[AttrShape].([]string)[i] = tok.Shape
		cols[AttrIsStop].([]bool)[i] = tok.IsStop
		cols[AttrLeftEdge].([]int)[i] = tok.LeftEdge
		cols[AttrRightEdge].([]int)[i] = tok.RightEdge
		cols[AttrMorph].([]string)[i] = tok.Morph
		cols[AttrSentiment].([]float64)[i] = tok.Sentiment
		cols[AttrIsAlpha].([]bool)[i] = tok.IsAlpha
		cols[AttrIsDigit].([]bool)[i] = tok.IsDigit
		cols[AttrLang].([]string)[i] = tok.Lang
	}

	out := make(map[string][]byte, len(cols))
	for name, values := range cols {
		data, err := json.Marshal(values)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}
