package main

import (
	"bytes"
	"errors"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"reflect"

	"github.com/cptaffe/acme-hilite/layer"
)

// goNodes is what one parse of a Go source contributes to each layer.
type goNodes struct {
	query  []layer.Node
	focus  []layer.Node
	errors []layer.Node
}

// typeName returns the name of n's type without package, e.g. "FuncDecl".
func typeName(n ast.Node) string {
	t := reflect.TypeOf(n)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// collectNodes parses src and returns the nodes whose type is in query,
// the innermost node containing the rune offset dot, and a node from each
// syntax error to the end of its line.
func collectNodes(src []byte, idx *runeIndex, query map[string]bool, dot int) goNodes {
	var out goNodes
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", src, parser.ParseComments|parser.AllErrors)

	var list scanner.ErrorList
	if errors.As(err, &list) {
		for _, e := range list {
			out.errors = append(out.errors, errorNode(src, idx, e.Pos.Offset))
		}
	}
	if f == nil {
		return out
	}

	tf := fset.File(f.Pos())
	node := func(n ast.Node) (layer.Node, bool) {
		if tf == nil || !n.Pos().IsValid() || !n.End().IsValid() {
			return layer.Node{}, false
		}
		begin, end := tf.Offset(n.Pos()), tf.Offset(n.End())
		if end < begin {
			return layer.Node{}, false
		}
		return layer.Node{
			Begin:  idx.rune(begin),
			End:    idx.rune(end),
			Inline: !bytes.ContainsRune(src[begin:end], '\n'),
		}, true
	}

	var (
		focus   layer.Node
		focused bool
	)
	ast.Inspect(f, func(n ast.Node) bool {
		if n == nil {
			return false
		}
		nd, ok := node(n)
		if !ok {
			return true
		}
		if query[typeName(n)] {
			out.query = append(out.query, nd)
		}
		if _, isFile := n.(*ast.File); !isFile && nd.Begin <= dot && dot < nd.End {
			if !focused || nd.End-nd.Begin < focus.End-focus.Begin {
				focus, focused = nd, true
			}
		}
		return true
	})
	if focused {
		out.focus = []layer.Node{focus}
	}
	return out
}

// errorNode covers from byte offset off to the end of its line, or one
// rune if the line is empty.
func errorNode(src []byte, idx *runeIndex, off int) layer.Node {
	off = min(max(off, 0), len(src))
	end := len(src)
	if nl := bytes.IndexByte(src[off:], '\n'); nl >= 0 {
		end = off + nl
	}
	begin := idx.rune(off)
	n := layer.Node{Begin: begin, End: idx.rune(end), Inline: true}
	if n.End == n.Begin && n.End < idx.n {
		n.End++
	}
	return n
}
