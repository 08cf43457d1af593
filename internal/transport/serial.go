package transport

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/tarm/serial"
)

// Open returns the exclusive host command channel: a serial port, or
// stdin/stdout when device is empty or "-" (bench use).
func Open(device string, baud int) (io.ReadWriteCloser, error) {
	if device == "" || device == "-" {
		return stdio{}, nil
	}
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return port, nil
}

// Lines feeds line-delimited commands from r into a channel. The channel
// closes when the reader ends, leaving the scheduler loop free-running.
func Lines(r io.Reader) <-chan string {
	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return nil }
