//go:build windows

// Windows audio backends do not write noise to fd 2, so capture is a
// no-op there.
package stderr

import (
	"io"
	"os"
)

// Messages never receives anything on Windows.
var Messages = make(chan string)

// Capture is a no-op; the process keeps writing to os.Stderr.
func Capture() (io.Writer, error) {
	return os.Stderr, nil
}

// Restore is a no-op on Windows.
func Restore() {}
