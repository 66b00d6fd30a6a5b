//go:build !windows

// Package stderr reroutes output that C audio libraries write straight
// to file descriptor 2, bypassing os.Stderr. ALSA and the mp3 decoder
// print warnings there, which would interleave with the player's own
// terminal output; captured lines are surfaced through the logger
// instead.
package stderr

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
)

// Messages receives the captured lines. Sends never block; lines are
// dropped when nobody drains the channel.
var Messages = make(chan string, 100)

var (
	mu        sync.Mutex
	origFD    int
	pipeRead  *os.File
	pipeWrite *os.File
	started   bool
)

// origWriter writes to the pre-capture stderr descriptor.
type origWriter struct{}

func (origWriter) Write(p []byte) (int, error) {
	return syscall.Write(origFD, p)
}

// Capture redirects fd 2 into a pipe and returns a writer on the
// original stderr for the process's own output. Must be called before
// the audio backend initializes. On failure the returned writer is
// os.Stderr and the program continues uncaptured.
func Capture() (io.Writer, error) {
	mu.Lock()
	defer mu.Unlock()
	if started {
		return origWriter{}, nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return os.Stderr, err
	}

	origFD, err = syscall.Dup(int(os.Stderr.Fd()))
	if err != nil {
		r.Close()
		w.Close()
		return os.Stderr, err
	}

	if err := syscall.Dup2(int(w.Fd()), int(os.Stderr.Fd())); err != nil {
		_ = syscall.Close(origFD)
		r.Close()
		w.Close()
		return os.Stderr, err
	}

	pipeRead = r
	pipeWrite = w
	started = true

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case Messages <- line:
			default:
			}
		}
	}()

	return origWriter{}, nil
}

// Restore puts the original stderr back. Messages stays open; the
// reader goroutine exits once the pipe closes.
func Restore() {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return
	}
	_ = syscall.Dup2(origFD, int(os.Stderr.Fd()))
	_ = syscall.Close(origFD)
	pipeWrite.Close()
	pipeRead.Close()
	started = false
}
