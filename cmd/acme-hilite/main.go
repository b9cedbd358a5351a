// Command acme-hilite is a 9P service that composes highlight layers and
// syntax highlighting into the styles of acme windows.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"9fans.net/go/acme"
	"9fans.net/go/plan9/client"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-hilite/internal/server"
	"github.com/cptaffe/acme-hilite/layer"
	"github.com/cptaffe/acme-hilite/logger"
)

func main() {
	stylesFile := flag.String("styles", "", "styles file mapping tag patterns to acme style indices")
	srv := flag.String("srv", "", "unix socket path (default: $NAMESPACE/"+layer.Service+")")
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
	zap.ReplaceGlobals(l)
	defer l.Sync() //nolint:errcheck

	srvPath := *srv
	if srvPath == "" {
		srvPath = client.Namespace() + "/" + layer.Service
	}

	var cfg server.Config
	if *stylesFile != "" {
		data, err := os.ReadFile(*stylesFile)
		if err != nil {
			l.Fatal("read styles", zap.String("path", *stylesFile), zap.Error(err))
		}
		cfg, err = server.ParseConfig(string(data))
		if err != nil {
			l.Warn("styles file has errors", zap.String("path", *stylesFile), zap.Error(err))
		}
		l.Info("loaded styles",
			zap.Int("styles", cfg.Styles.Len()),
			zap.Int("layers", len(cfg.Layers)),
			zap.String("path", *stylesFile))
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()
	ctx = logger.NewContext(ctx, l)

	s := server.NewServer(cfg, ctx)
	go watchLog(s)

	rwc, cleanup, err := listen(srvPath)
	if err != nil {
		l.Fatal("listen", zap.String("path", srvPath), zap.Error(err))
	}
	l.Info("listening", zap.String("addr", srvPath))

	served := make(chan struct{})
	go func() {
		s.HandleConn(rwc)
		close(served)
	}()

	select {
	case <-ctx.Done():
	case <-served:
		l.Warn("9P connection closed")
	}
	cleanup()

	l.Info("shutting down; waiting for window goroutines")
	done := make(chan struct{})
	go func() { s.Wait(); close(done) }()
	select {
	case <-done:
		l.Info("shutdown complete")
	case <-time.After(5 * time.Second):
		l.Warn("shutdown timed out; exiting anyway")
	}
}

// watchLog seeds window state from acme and then streams opens/closes.
//
// acme.Windows() and acme.Log() are retried with backoff: when the previous
// process exits abruptly, 9pserve may still be clunking its outstanding
// fids, leaving acme's fid table temporarily busy.
//
// lr.Read() is a blocking call; each call runs in a goroutine and is
// selected against ctx.Done() so that a signal causes a clean exit.
func watchLog(s *server.Server) {
	ctx := s.Ctx()
	l := logger.L(ctx)

	wins, err := retryOn(ctx, 10, 200*time.Millisecond, acme.Windows)
	if err != nil {
		l.Fatal("acme.Windows", zap.Error(err))
	}
	for _, w := range wins {
		s.AddWin(w.ID)
	}

	lr, err := retryOn(ctx, 10, 200*time.Millisecond, acme.Log)
	if err != nil {
		l.Fatal("acme.Log", zap.Error(err))
	}
	defer lr.Close()

	type logResult struct {
		ev  acme.LogEvent
		err error
	}
	ch := make(chan logResult, 1)

	readNext := func() {
		go func() {
			ev, err := lr.Read()
			ch <- logResult{ev, err}
		}()
	}
	readNext()

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-ch:
			if res.err != nil {
				if ctx.Err() != nil {
					return
				}
				l.Fatal("acme log", zap.Error(res.err))
			}
			switch res.ev.Op {
			case "new":
				s.AddWin(res.ev.ID)
			case "del":
				s.DelWin(res.ev.ID)
			}
			readNext()
		}
	}
}

// retryOn calls fn repeatedly until it succeeds, the context is cancelled,
// or maxAttempts is exhausted.  Between each attempt it waits delay.
func retryOn[T any](ctx context.Context, maxAttempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var (
		zero T
		err  error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var v T
		v, err = fn()
		if err == nil {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, err
}
