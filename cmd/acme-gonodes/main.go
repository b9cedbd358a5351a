// Command acme-gonodes highlights the Go source in an acme window through
// acme-hilite.
//
// It publishes token-class syntax highlighting, the nodes whose AST type is
// named by -query to the query-result layer, the innermost node at dot to
// the focus-node layer, and parse errors to the error-node layer.
package main

import (
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"9fans.net/go/acme"
	"9fans.net/go/plan9/client"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-hilite/internal/compositor"
	"github.com/cptaffe/acme-hilite/layer"
)

func main() {
	winFlag := flag.Int("win", 0, "acme window id (default: $winid)")
	query := flag.String("query", "FuncDecl", "comma-separated AST node types for the query-result layer")
	clearAll := flag.Bool("clear", false, "remove all highlighting from the window and exit")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	var err error
	var l *zap.Logger
	if *verbose {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer l.Sync() //nolint:errcheck

	id := *winFlag
	if id == 0 {
		if id, err = strconv.Atoi(os.Getenv("winid")); err != nil {
			l.Fatal("no window: use -win or run from acme", zap.Error(err))
		}
	}
	l = l.With(zap.Int("window", id))

	w, err := layer.Open(id)
	if err != nil {
		l.Fatal("open compositor window", zap.Error(err))
	}
	if *clearAll {
		if err := w.ClearAll(); err != nil {
			l.Fatal("clear", zap.Error(err))
		}
		return
	}

	awin, err := acme.Open(id, nil)
	if err != nil {
		l.Fatal("open acme window", zap.Error(err))
	}
	defer awin.CloseFiles()
	src, err := awin.ReadAll("body")
	if err != nil {
		l.Fatal("read body", zap.Error(err))
	}
	idx := newRuneIndex(src)

	if err := w.PublishSyntax(syntaxSequence(src, idx)); err != nil {
		l.Error("publish syntax", zap.Error(err))
	}

	dot := -1
	if acmefs, err := client.MountService("acme"); err != nil {
		l.Warn("mount acme; no focus node", zap.Error(err))
	} else if q0, _, err := layer.ReadDot(acmefs, id); err != nil {
		l.Warn("read dot; no focus node", zap.Error(err))
	} else {
		dot = q0
	}

	nodes := collectNodes(src, idx, querySet(*query), dot)
	for _, u := range []struct {
		id    compositor.LayerID
		nodes []layer.Node
	}{
		{compositor.Query, nodes.query},
		{compositor.Focus, nodes.focus},
		{compositor.Error, nodes.errors},
	} {
		if err := w.SetNodes(u.id.StyleClass(), u.nodes, true); err != nil {
			l.Error("set nodes", zap.Stringer("layer", u.id), zap.Error(err))
			continue
		}
		l.Debug("set nodes", zap.Stringer("layer", u.id), zap.Int("nodes", len(u.nodes)))
	}

	if seq, err := w.Spans(); err != nil {
		l.Warn("read spans", zap.Error(err))
	} else {
		l.Debug("composed", zap.Int("spans", len(seq)), zap.Int("length", seq.Len()))
	}
}

func querySet(s string) map[string]bool {
	m := make(map[string]bool)
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			m[name] = true
		}
	}
	return m
}
