package main

import (
	"go/scanner"
	"go/token"
	"unicode/utf8"

	"github.com/cptaffe/acme-hilite/style"
)

var (
	commentTags  = style.Tags("comment")
	identTags    = style.Tags("ident")
	literalTags  = style.Tags("literal")
	operatorTags = style.Tags("operator")
	keywordTags  = style.Tags("keyword")
)

// runeIndex converts byte offsets of a source to rune offsets.
type runeIndex struct {
	offs []int // offs[b] is the rune offset of byte b
	n    int   // rune count
}

func newRuneIndex(src []byte) *runeIndex {
	offs := make([]int, len(src)+1)
	r := 0
	for b := 0; b < len(src); {
		_, size := utf8.DecodeRune(src[b:])
		for i := 0; i < size; i++ {
			offs[b+i] = r
		}
		b += size
		r++
	}
	offs[len(src)] = r
	return &runeIndex{offs: offs, n: r}
}

// rune returns the rune offset of byte offset b, clipped to the source.
func (ri *runeIndex) rune(b int) int {
	switch {
	case b <= 0:
		return 0
	case b >= len(ri.offs):
		return ri.n
	}
	return ri.offs[b]
}

func tokenTags(tok token.Token) (style.TagSet, bool) {
	switch {
	case tok == token.COMMENT:
		return commentTags, true
	case tok == token.IDENT:
		return identTags, true
	case tok.IsLiteral():
		return literalTags, true
	case tok.IsOperator():
		return operatorTags, true
	case tok.IsKeyword():
		return keywordTags, true
	}
	return style.TagSet{}, false
}

// syntaxSequence highlights Go source by token class.  The sequence covers
// every rune of src.
func syntaxSequence(src []byte, idx *runeIndex) style.Sequence {
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(src))
	var s scanner.Scanner
	s.Init(file, src, nil, scanner.ScanComments)

	var runs []style.Run
	for {
		pos, tok, lit := s.Scan()
		if tok == token.EOF {
			break
		}
		if tok == token.SEMICOLON && lit != ";" {
			continue // inserted by the scanner
		}
		tags, ok := tokenTags(tok)
		if !ok {
			continue
		}
		start := file.Offset(pos)
		end := start + len(tok.String())
		if lit != "" {
			end = start + len(lit)
		}
		runs = append(runs, style.Run{Start: idx.rune(start), End: idx.rune(end), Tags: tags})
	}
	return style.FromRuns(runs, idx.n)
}
