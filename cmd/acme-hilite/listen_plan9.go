//go:build plan9

package main

import (
	"fmt"
	"io"
	"os"
	"syscall"
)

// shutdownSignals are the OS signals that trigger a clean exit.
var shutdownSignals = []os.Signal{os.Interrupt}

// listen posts one end of a pipe at srvPath, e.g. /srv/acme-hilite, and
// returns the other end.
func listen(srvPath string) (io.ReadWriteCloser, func(), error) {
	var p [2]int
	if err := syscall.Pipe(p[:]); err != nil {
		return nil, nil, fmt.Errorf("pipe: %w", err)
	}
	f, err := os.OpenFile(srvPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		syscall.Close(p[0])
		syscall.Close(p[1])
		return nil, nil, fmt.Errorf("post %s: %w", srvPath, err)
	}
	if _, err := fmt.Fprintf(f, "%d", p[1]); err != nil {
		f.Close()
		syscall.Close(p[0])
		syscall.Close(p[1])
		return nil, nil, fmt.Errorf("post %s: %w", srvPath, err)
	}
	syscall.Close(p[1])
	rw := os.NewFile(uintptr(p[0]), srvPath)
	return rw, func() {
		rw.Close()
		f.Close()
		os.Remove(srvPath)
	}, nil
}
