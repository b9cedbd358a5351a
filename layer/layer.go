// Package layer is the client library for the acme-hilite compositor.
//
// The compositor is a 9P file server that keeps, per acme window, a fixed
// set of highlight layers plus the window's syntax highlighting, and
// composes them into the window's styles.
//
// Typical usage for a producer:
//
//	w, err := layer.Open(winID)
//	if err != nil { ... }
//	w.PublishSyntax(seq)
//	w.SetNodes("query-result", nodes, true)
//	defer w.ClearLayer("query-result")
package layer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"9fans.net/go/plan9"
	"9fans.net/go/plan9/client"

	"github.com/cptaffe/acme-hilite/style"
)

// Service is the name the compositor posts in the namespace.
const Service = "acme-hilite"

// Node is a highlighted region of a window body in rune offsets.  End is
// exclusive.  Inline marks a node that lies on a single line.
type Node struct {
	Begin  int
	End    int
	Inline bool
}

// Window is a client handle for one acme window in the compositor.  A
// single 9P connection is shared across all Windows in the process and
// re-established on first use after any error.
type Window struct {
	ID int
}

// ---- connection management ----

var (
	connMu sync.Mutex
	fsys   *client.Fsys
)

// currentFsys returns the cached connection to the compositor, connecting
// on first use or after a previous connection error has been reset.
func currentFsys() (*client.Fsys, error) {
	connMu.Lock()
	defer connMu.Unlock()
	if fsys != nil {
		return fsys, nil
	}
	fs, err := client.MountService(Service)
	if err != nil {
		return nil, err
	}
	fsys = fs
	return fs, nil
}

// resetFsys clears the cached connection so the next call to currentFsys
// will reconnect.
func resetFsys() {
	connMu.Lock()
	fsys = nil
	connMu.Unlock()
}

// Open returns a handle for winID.  It fails if the compositor is
// unreachable or does not know the window.
func Open(winID int) (*Window, error) {
	w := &Window{ID: winID}
	if _, err := w.read("spans"); err != nil {
		return nil, err
	}
	return w, nil
}

// fail drops the shared connection after err, unless err is the server
// rejecting the request.
func (w *Window) fail(err error) error {
	if err != nil && !isServerError(err) {
		resetFsys()
	}
	return err
}

func isServerError(err error) bool {
	var e plan9.ProtocolError
	return errors.As(err, &e)
}

func (w *Window) read(name string) (string, error) {
	fs, err := currentFsys()
	if err != nil {
		return "", err
	}
	fid, err := fs.Open(fmt.Sprintf("%d/%s", w.ID, name), plan9.OREAD)
	if err != nil {
		return "", w.fail(err)
	}
	defer fid.Close()
	b, err := io.ReadAll(fid)
	if err != nil {
		return "", w.fail(err)
	}
	return string(b), nil
}

// write opens name with mode, writes text and clunks.  The compositor
// applies what was written at clunk, so the error from Close matters.
func (w *Window) write(name string, mode uint8, text string) error {
	fs, err := currentFsys()
	if err != nil {
		return err
	}
	fid, err := fs.Open(fmt.Sprintf("%d/%s", w.ID, name), mode)
	if err != nil {
		return w.fail(err)
	}
	if text != "" {
		if _, err := fid.Write([]byte(text)); err != nil {
			fid.Close()
			return w.fail(err)
		}
	}
	return w.fail(fid.Close())
}

// SetNodes highlights nodes in the named layer.  With reset the layer's
// content is replaced, otherwise nodes are added to it.  An empty nodes
// with reset clears the layer.
func (w *Window) SetNodes(layer string, nodes []Node, reset bool) error {
	mode := uint8(plan9.OWRITE)
	if reset {
		mode |= plan9.OTRUNC
	}
	return w.write("layers/"+layer+"/nodes", mode, FormatNodes(nodes))
}

// ClearLayer empties the named layer.
func (w *Window) ClearLayer(layer string) error {
	return w.write("layers/"+layer+"/ctl", plan9.OWRITE, "clear\n")
}

// ClearAll empties every layer and drops the syntax highlighting.
func (w *Window) ClearAll() error {
	return w.write("ctl", plan9.OWRITE, "clear\n")
}

// PublishSyntax replaces the window's syntax highlighting.
func (w *Window) PublishSyntax(seq style.Sequence) error {
	return w.write("syntax", plan9.OWRITE, style.Format(seq))
}

// Spans returns the window's last composed sequence.
func (w *Window) Spans() (style.Sequence, error) {
	text, err := w.read("spans")
	if err != nil {
		return nil, err
	}
	return style.Parse(text)
}

// FormatNodes renders nodes in the format of a layer's nodes file.
func FormatNodes(nodes []Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&sb, "%d %d", n.Begin, n.End)
		if n.Inline {
			sb.WriteString(" inline")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ReadDot returns the current dot [q0, q1) for the given acme window,
// using the addr file of an already-open acme 9P connection.
// The addr fid is opened before the ctl write so the nopen 0→1 transition
// does not reset the address.
func ReadDot(acmefs *client.Fsys, winID int) (q0, q1 int, err error) {
	addrFid, err := acmefs.Open(fmt.Sprintf("%d/addr", winID), plan9.OREAD)
	if err != nil {
		return 0, 0, fmt.Errorf("open addr: %w", err)
	}
	defer addrFid.Close()

	ctlFid, err := acmefs.Open(fmt.Sprintf("%d/ctl", winID), plan9.OWRITE)
	if err != nil {
		return 0, 0, fmt.Errorf("open ctl: %w", err)
	}
	_, err = ctlFid.Write([]byte("addr=dot"))
	ctlFid.Close()
	if err != nil {
		return 0, 0, fmt.Errorf("write addr=dot: %w", err)
	}

	buf := make([]byte, 40)
	n, _ := addrFid.Read(buf)
	if _, err := fmt.Sscanf(strings.TrimSpace(string(buf[:n])), "%d %d", &q0, &q1); err != nil {
		return 0, 0, fmt.Errorf("parse addr %q: %w", string(buf[:n]), err)
	}
	return q0, q1, nil
}
