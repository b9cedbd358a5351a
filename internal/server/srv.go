package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"9fans.net/go/plan9"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-hilite/internal/compositor"
	"github.com/cptaffe/acme-hilite/logger"
	"github.com/cptaffe/acme-hilite/style"
)

// Sentinel walk errors.
var (
	ErrNoFile = errors.New("no such file")
	ErrNotDir = errors.New("not a directory")
)

// File-type constants; encode directly into Qid.Path.
const (
	ftRoot      = 0
	ftWinDir    = 1
	ftWinCtl    = 2 // <win>/ctl
	ftSyntax    = 3 // <win>/syntax
	ftSpans     = 4 // <win>/spans: last composed sequence
	ftLayersDir = 5
	ftLayerDir  = 6
	ftNodes     = 7 // <win>/layers/<name>/nodes
	ftLayerCtl  = 8 // <win>/layers/<name>/ctl
)

func isDir(ft int) bool {
	return ft == ftRoot || ft == ftWinDir || ft == ftLayersDir || ft == ftLayerDir
}

// Qid path encoding: [ft:16][winID:24][layID:24]
func makePath(ft, winID, layID int) uint64 {
	return (uint64(ft) << 48) | (uint64(winID) << 24) | uint64(layID)
}

func (s *Server) makeQID(ft, winID, layID int) plan9.Qid {
	qt := uint8(plan9.QTFILE)
	if isDir(ft) {
		qt = plan9.QTDIR
	}
	return plan9.Qid{Type: qt, Path: makePath(ft, winID, layID)}
}

func (s *Server) makeDir(ft, winID, layID int) plan9.Dir {
	now := uint32(time.Now().Unix())
	var name string
	var mode plan9.Perm
	if isDir(ft) {
		mode = plan9.DMDIR | 0555
	}
	switch ft {
	case ftRoot:
		name = "/"
	case ftWinDir:
		name = strconv.Itoa(winID)
	case ftWinCtl:
		name = "ctl"
		mode = 0222
	case ftSyntax:
		name = "syntax"
		mode = 0666
	case ftSpans:
		name = "spans"
		mode = 0444
	case ftLayersDir:
		name = "layers"
	case ftLayerDir:
		name = compositor.LayerID(layID).StyleClass()
	case ftNodes:
		name = "nodes"
		mode = 0666
	case ftLayerCtl:
		name = "ctl"
		mode = 0222
	}
	return plan9.Dir{
		Qid:   s.makeQID(ft, winID, layID),
		Mode:  mode,
		Atime: now, Mtime: now,
		Name: name,
		Uid:  "none", Gid: "none", Muid: "none",
	}
}

// walkStep advances one path component from (ft, winID, layID).
func (s *Server) walkStep(ft, winID, layID int, name string) (int, int, int, error) {
	if name == ".." {
		switch ft {
		case ftRoot, ftWinDir:
			return ftRoot, 0, 0, nil
		case ftLayersDir:
			return ftWinDir, winID, 0, nil
		case ftLayerDir:
			return ftLayersDir, winID, 0, nil
		default:
			return 0, 0, 0, ErrNotDir
		}
	}
	switch ft {
	case ftRoot:
		id, err := strconv.Atoi(name)
		if err != nil || id < 0 {
			return 0, 0, 0, ErrNoFile
		}
		// Accept any numeric window ID.  WinStates are created by the acme
		// log watcher; operations check GetWin and fail with "window gone"
		// if it has not been registered yet.
		return ftWinDir, id, 0, nil
	case ftWinDir:
		switch name {
		case "ctl":
			return ftWinCtl, winID, 0, nil
		case "syntax":
			return ftSyntax, winID, 0, nil
		case "spans":
			return ftSpans, winID, 0, nil
		case "layers":
			return ftLayersDir, winID, 0, nil
		}
		return 0, 0, 0, ErrNoFile
	case ftLayersDir:
		id, err := compositor.ParseLayer(name)
		if err != nil || !s.hasLayer(id) {
			return 0, 0, 0, ErrNoFile
		}
		return ftLayerDir, winID, int(id), nil
	case ftLayerDir:
		switch name {
		case "nodes":
			return ftNodes, winID, layID, nil
		case "ctl":
			return ftLayerCtl, winID, layID, nil
		}
		return 0, 0, 0, ErrNoFile
	default:
		return 0, 0, 0, ErrNotDir
	}
}

// readDir returns marshalled plan9.Dir entries for the children of ft.
func (s *Server) readDir(ft, winID, layID int) []byte {
	var dirs []plan9.Dir
	switch ft {
	case ftRoot:
		for _, id := range s.WinIDs() {
			dirs = append(dirs, s.makeDir(ftWinDir, id, 0))
		}
	case ftWinDir:
		for _, c := range []int{ftWinCtl, ftSyntax, ftSpans, ftLayersDir} {
			dirs = append(dirs, s.makeDir(c, winID, 0))
		}
	case ftLayersDir:
		for _, id := range s.layers {
			dirs = append(dirs, s.makeDir(ftLayerDir, winID, int(id)))
		}
	case ftLayerDir:
		dirs = append(dirs, s.makeDir(ftNodes, winID, layID))
		dirs = append(dirs, s.makeDir(ftLayerCtl, winID, layID))
	}
	var buf []byte
	for _, d := range dirs {
		if b, err := d.Bytes(); err == nil {
			buf = append(buf, b...)
		}
	}
	return buf
}

// ---- per-connection state ----

type fid struct {
	ft    int
	winID int
	layID int
	open  bool
	mode  uint8
	buf   []byte // buffered read content (set at Topen)
	wbuf  []byte // accumulated write bytes (applied at Tclunk)
	wrote bool
}

func (f *fid) writable() bool {
	m := f.mode & 3
	return f.open && (m == plan9.OWRITE || m == plan9.ORDWR)
}

type conn struct {
	srv   *Server
	fids  map[uint32]*fid
	msize uint32
}

// HandleConn serves 9P on c until it fails or is closed.
func (s *Server) HandleConn(c io.ReadWriteCloser) {
	defer c.Close()
	log := logger.L(s.ctx)
	cn := &conn{
		srv:   s,
		fids:  make(map[uint32]*fid),
		msize: 8192 + plan9.IOHDRSZ,
	}
	for {
		fc, err := plan9.ReadFcall(c)
		if err != nil {
			return
		}
		start := time.Now()
		resp := cn.dispatch(fc)
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			log.Warn("slow dispatch",
				zap.String("type", fcallTypeName(fc.Type)),
				zap.Duration("elapsed", elapsed))
		}
		if err := plan9.WriteFcall(c, resp); err != nil {
			return
		}
	}
}

func rerr(tag uint16, msg string) *plan9.Fcall {
	return &plan9.Fcall{Type: plan9.Rerror, Tag: tag, Ename: msg}
}

// opErr reports a failed window operation.  Bad client input is routine;
// anything else is an internal fault and is logged.
func (cn *conn) opErr(tag uint16, winID int, err error) *plan9.Fcall {
	if !errors.Is(err, compositor.ErrInvalidArgument) {
		logger.L(cn.srv.ctx).Error("window operation",
			zap.Int("window", winID), zap.Error(err))
	}
	return rerr(tag, err.Error())
}

func (cn *conn) dispatch(fc *plan9.Fcall) *plan9.Fcall {
	switch fc.Type {
	case plan9.Tversion:
		return cn.doVersion(fc)
	case plan9.Tauth:
		return rerr(fc.Tag, "no authentication required")
	case plan9.Tattach:
		return cn.doAttach(fc)
	case plan9.Tflush:
		return &plan9.Fcall{Type: plan9.Rflush, Tag: fc.Tag}
	case plan9.Twalk:
		return cn.doWalk(fc)
	case plan9.Topen:
		return cn.doOpen(fc)
	case plan9.Tcreate:
		return rerr(fc.Tag, "create not supported")
	case plan9.Tread:
		return cn.doRead(fc)
	case plan9.Twrite:
		return cn.doWrite(fc)
	case plan9.Tclunk:
		return cn.doClunk(fc)
	case plan9.Tremove:
		return rerr(fc.Tag, "remove not supported")
	case plan9.Tstat:
		return cn.doStat(fc)
	case plan9.Twstat:
		return rerr(fc.Tag, "wstat not supported")
	default:
		return rerr(fc.Tag, "unknown message type")
	}
}

func (cn *conn) doVersion(fc *plan9.Fcall) *plan9.Fcall {
	msize := min(fc.Msize, cn.msize)
	cn.msize = msize
	cn.fids = make(map[uint32]*fid)
	ver := "9P2000"
	if !strings.HasPrefix(fc.Version, "9P2000") {
		ver = "unknown"
	}
	return &plan9.Fcall{Type: plan9.Rversion, Tag: fc.Tag, Msize: msize, Version: ver}
}

func (cn *conn) doAttach(fc *plan9.Fcall) *plan9.Fcall {
	cn.fids[fc.Fid] = &fid{ft: ftRoot}
	return &plan9.Fcall{
		Type: plan9.Rattach,
		Tag:  fc.Tag,
		Qid:  cn.srv.makeQID(ftRoot, 0, 0),
	}
}

func (cn *conn) doWalk(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if f.open {
		return rerr(fc.Tag, "fid is open")
	}

	curFt, curWin, curLay := f.ft, f.winID, f.layID
	wqids := make([]plan9.Qid, 0, len(fc.Wname))

	for i, name := range fc.Wname {
		nft, nwin, nlay, err := cn.srv.walkStep(curFt, curWin, curLay, name)
		if err != nil {
			if i == 0 {
				return rerr(fc.Tag, err.Error())
			}
			break
		}
		wqids = append(wqids, cn.srv.makeQID(nft, nwin, nlay))
		curFt, curWin, curLay = nft, nwin, nlay
	}

	if len(wqids) == len(fc.Wname) {
		cn.fids[fc.Newfid] = &fid{ft: curFt, winID: curWin, layID: curLay}
	}
	return &plan9.Fcall{Type: plan9.Rwalk, Tag: fc.Tag, Wqid: wqids}
}

func (cn *conn) doOpen(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if f.open {
		return rerr(fc.Tag, "already open")
	}
	s := cn.srv
	mode := fc.Mode & 3
	reading := mode == plan9.OREAD || mode == plan9.ORDWR

	var w *WinState
	if f.ft != ftRoot {
		if w = s.GetWin(f.winID); w == nil {
			return rerr(fc.Tag, "window gone")
		}
	}

	switch f.ft {
	case ftRoot, ftWinDir, ftLayersDir, ftLayerDir:
		if mode != plan9.OREAD {
			return rerr(fc.Tag, "is a directory")
		}
		f.buf = s.readDir(f.ft, f.winID, f.layID)

	case ftWinCtl, ftLayerCtl:
		if mode != plan9.OWRITE {
			return rerr(fc.Tag, "permission denied")
		}

	case ftSpans:
		if mode != plan9.OREAD {
			return rerr(fc.Tag, "permission denied")
		}
		f.buf = []byte(w.SpansText())

	case ftSyntax:
		if reading {
			f.buf = []byte(w.SyntaxText())
		}

	case ftNodes:
		if reading {
			f.buf = []byte(w.NodesText(compositor.LayerID(f.layID)))
		}
	}

	f.open = true
	f.mode = fc.Mode
	return &plan9.Fcall{
		Type:   plan9.Ropen,
		Tag:    fc.Tag,
		Qid:    s.makeQID(f.ft, f.winID, f.layID),
		Iounit: cn.msize - plan9.IOHDRSZ,
	}
}

func (cn *conn) doRead(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if !f.open {
		return rerr(fc.Tag, "not open")
	}
	off := fc.Offset
	if off >= uint64(len(f.buf)) {
		return &plan9.Fcall{Type: plan9.Rread, Tag: fc.Tag, Data: nil}
	}
	end := min(off+uint64(fc.Count), uint64(len(f.buf)))
	return &plan9.Fcall{Type: plan9.Rread, Tag: fc.Tag, Data: f.buf[off:end]}
}

// ctlLines consumes the complete lines accumulated in wbuf.
func ctlLines(wbuf *[]byte) []string {
	var cmds []string
	for {
		nl := bytes.IndexByte(*wbuf, '\n')
		if nl < 0 {
			return cmds
		}
		cmd := strings.TrimSpace(string((*wbuf)[:nl]))
		*wbuf = (*wbuf)[nl+1:]
		if cmd != "" {
			cmds = append(cmds, cmd)
		}
	}
}

func (cn *conn) doWrite(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if !f.writable() {
		return rerr(fc.Tag, "not open for writing")
	}
	n := len(fc.Data)

	switch f.ft {
	case ftWinCtl, ftLayerCtl:
		w := cn.srv.GetWin(f.winID)
		if w == nil {
			return rerr(fc.Tag, "window gone")
		}
		f.wbuf = append(f.wbuf, fc.Data...)
		for _, cmd := range ctlLines(&f.wbuf) {
			if err := runCtl(w, f, cmd); err != nil {
				return cn.opErr(fc.Tag, f.winID, err)
			}
		}

	case ftSyntax, ftNodes:
		// Accumulate all writes; parse and apply as one unit at clunk.
		f.wbuf = append(f.wbuf, fc.Data...)
		f.wrote = true

	default:
		return rerr(fc.Tag, "not writable")
	}
	return &plan9.Fcall{Type: plan9.Rwrite, Tag: fc.Tag, Count: uint32(n)}
}

// runCtl executes one command written to a ctl file.
func runCtl(w *WinState, f *fid, cmd string) error {
	switch {
	case f.ft == ftWinCtl && cmd == "clear":
		return w.ClearAll()
	case f.ft == ftWinCtl && cmd == "refresh":
		return w.Refresh()
	case f.ft == ftLayerCtl && cmd == "clear":
		return w.ClearLayer(compositor.LayerID(f.layID))
	}
	return fmt.Errorf("%w: unknown ctl command %q", compositor.ErrInvalidArgument, cmd)
}

// doClunk applies what was written to a syntax or nodes file.  A nodes file
// opened with OTRUNC replaces the layer; otherwise the nodes are merged in.
// The fid is released even if applying fails.
func (cn *conn) doClunk(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	delete(cn.fids, fc.Fid)
	if f == nil || !f.writable() {
		return &plan9.Fcall{Type: plan9.Rclunk, Tag: fc.Tag}
	}
	trunc := f.mode&plan9.OTRUNC != 0

	var err error
	switch {
	case f.ft == ftSyntax && f.wrote:
		err = cn.applySyntax(f)
	case f.ft == ftNodes && (f.wrote || trunc):
		err = cn.applyNodes(f, trunc)
	}
	if err != nil {
		return cn.opErr(fc.Tag, f.winID, err)
	}
	return &plan9.Fcall{Type: plan9.Rclunk, Tag: fc.Tag}
}

func (cn *conn) applySyntax(f *fid) error {
	w := cn.srv.GetWin(f.winID)
	if w == nil {
		return errors.New("window gone")
	}
	seq, err := style.Parse(string(f.wbuf))
	if err != nil {
		return fmt.Errorf("%w: %v", compositor.ErrInvalidArgument, err)
	}
	return w.PublishSyntax(seq)
}

func (cn *conn) applyNodes(f *fid, reset bool) error {
	w := cn.srv.GetWin(f.winID)
	if w == nil {
		return errors.New("window gone")
	}
	nodes, err := parseNodes(string(f.wbuf))
	if err != nil {
		return err
	}
	return w.SetNodes(compositor.LayerID(f.layID), nodes, reset)
}

func (cn *conn) doStat(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	d := cn.srv.makeDir(f.ft, f.winID, f.layID)
	stat, err := d.Bytes()
	if err != nil {
		return rerr(fc.Tag, err.Error())
	}
	return &plan9.Fcall{Type: plan9.Rstat, Tag: fc.Tag, Stat: stat}
}

func fcallTypeName(t uint8) string {
	switch t {
	case plan9.Tversion:
		return "Tversion"
	case plan9.Tauth:
		return "Tauth"
	case plan9.Tattach:
		return "Tattach"
	case plan9.Tflush:
		return "Tflush"
	case plan9.Twalk:
		return "Twalk"
	case plan9.Topen:
		return "Topen"
	case plan9.Tcreate:
		return "Tcreate"
	case plan9.Tread:
		return "Tread"
	case plan9.Twrite:
		return "Twrite"
	case plan9.Tclunk:
		return "Tclunk"
	case plan9.Tremove:
		return "Tremove"
	case plan9.Tstat:
		return "Tstat"
	case plan9.Twstat:
		return "Twstat"
	default:
		return fmt.Sprintf("T%d", t)
	}
}
