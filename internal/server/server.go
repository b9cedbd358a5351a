package server

import (
	"context"
	"sort"
	"sync"

	"9fans.net/go/acme"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-hilite/internal/compositor"
	"github.com/cptaffe/acme-hilite/logger"
	"github.com/cptaffe/acme-hilite/style"
)

// Server is the global service state.
//
// styles, layers and cache are fixed after NewServer returns and may be
// accessed from any goroutine without holding mu.  The tag cache is shared
// by every window so equal tag sets are stored once per process.
//
// mu protects only the wins map; it is never held while doing any I/O.
type Server struct {
	styles StyleMap
	layers []compositor.LayerID
	cache  *style.TagCache
	mu     sync.Mutex
	wins   map[int]*WinState
	ctx    context.Context // root context; cancelled on shutdown
	wg     sync.WaitGroup  // tracks live window goroutines
}

// NewServer constructs a Server from the parsed config and root context.
func NewServer(cfg Config, ctx context.Context) *Server {
	layers := cfg.Layers
	if len(layers) == 0 {
		layers = compositor.Layers()
	}
	return &Server{
		styles: cfg.Styles,
		layers: layers,
		cache:  style.NewTagCache(),
		wins:   make(map[int]*WinState),
		ctx:    ctx,
	}
}

// Ctx returns the root context of the server.
func (s *Server) Ctx() context.Context {
	return s.ctx
}

// Wait blocks until all window goroutines have exited.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Layers returns the layers enabled in every window.
func (s *Server) Layers() []compositor.LayerID {
	return append([]compositor.LayerID(nil), s.layers...)
}

func (s *Server) hasLayer(id compositor.LayerID) bool {
	for _, l := range s.layers {
		if l == id {
			return true
		}
	}
	return false
}

// AddWin creates a WinState and starts its goroutine for the given window ID.
// Returns nil if the window was already registered.
//
// s.mu is never held while calling acme.Open: the lock is released, the
// (potentially slow) open is performed, then the lock is re-acquired to
// insert.  If another goroutine raced to add the same ID, the loser discards
// what it opened.
func (s *Server) AddWin(id int) *WinState {
	if s.GetWin(id) != nil {
		return nil
	}

	log := logger.L(s.ctx).With(zap.Int("window", id))
	awin, err := acme.Open(id, nil)
	if err != nil {
		// awin is nil; run() handles nil win gracefully.
		log.Error("open acme window", zap.Error(err))
	}
	ws := s.register(id, awin)
	if ws == nil && awin != nil {
		awin.CloseFiles()
	}
	return ws
}

// register builds the window actor around awin, which may be nil, and
// starts it.
func (s *Server) register(id int, awin *acme.Win) *WinState {
	ctx, cancel := context.WithCancel(s.ctx)
	ctx = logger.NewContext(ctx, logger.L(s.ctx).With(zap.Int("window", id)))

	ws := &WinState{
		ID:     id,
		ctx:    ctx,
		cancel: cancel,
		cmdCh:  make(chan func(*WinState), 64),
		srv:    s,
		win:    awin,
	}
	v := view{ws}
	comp, err := compositor.New(v, v, compositor.Config{
		Layers:      s.layers,
		Cache:       s.cache,
		Highlighter: v,
		Logger:      logger.L(ctx),
	})
	if err != nil {
		logger.L(ctx).Error("new compositor", zap.Error(err))
		cancel()
		return nil
	}
	ws.comp = comp

	s.mu.Lock()
	if _, ok := s.wins[id]; ok {
		// Lost the race: another goroutine added this window first.
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.wins[id] = ws
	s.mu.Unlock()

	s.wg.Add(1)
	go ws.run()
	return ws
}

// DelWin removes the window from the registry and cancels its goroutine.
// The run() goroutine closes the acme.Win when it sees ctx.Done().
func (s *Server) DelWin(id int) {
	s.mu.Lock()
	ws := s.wins[id]
	delete(s.wins, id)
	s.mu.Unlock()
	if ws != nil {
		ws.cancel()
	}
}

// GetWin returns the WinState for the given window ID, or nil if not found.
func (s *Server) GetWin(id int) *WinState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wins[id]
}

// WinIDs returns all registered window IDs in ascending order.
func (s *Server) WinIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.wins))
	for id := range s.wins {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
