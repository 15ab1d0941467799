// Package device speaks the feeder firmware's serial protocol.
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/petfeeder/internal/models"
)

// CompletionMarker is the firmware line that ends a dispense cycle.
const CompletionMarker = "Feed Complete"

// DefaultAckTimeout bounds the wait for CompletionMarker.
const DefaultAckTimeout = 10 * time.Second

var (
	// ErrUnsupported is returned for command kinds the firmware has no token for.
	ErrUnsupported = errors.New("command not supported by device")
	// ErrNoCompletion is returned when the completion line never arrives.
	ErrNoCompletion = errors.New("no completion line from device")
	// ErrClosed is returned once the link has been closed or the port stopped
	// accepting reads or writes.
	ErrClosed = errors.New("device link closed")
)

// tokens maps command kinds to what is written on the wire. PAUSE and RESUME
// are handled by the bridge and never reach the firmware.
var tokens = map[models.CommandKind]string{
	models.CommandFeed: "F",
}

// Token returns the wire token for kind.
func Token(kind models.CommandKind) (string, bool) {
	t, ok := tokens[kind]
	return t, ok
}

// IsComplete reports whether line signals the end of a dispense cycle.
func IsComplete(line string) bool {
	return strings.Contains(line, CompletionMarker)
}

// Result holds what the device printed during one cycle.
type Result struct {
	Token   string        `json:"token"`
	Lines   []string      `json:"lines"`
	Elapsed time.Duration `json:"elapsed"`
}

// Feeder executes commands on hardware.
type Feeder interface {
	// Name identifies the device link in logs.
	Name() string

	// Dispense sends the command and blocks until the device confirms it.
	Dispense(ctx context.Context, kind models.CommandKind) (*Result, error)

	Close() error
}

// Link is a Feeder over a line-oriented byte stream.
type Link struct {
	name       string
	port       io.ReadWriteCloser
	ackTimeout time.Duration

	mu    sync.Mutex // one cycle at a time
	lines chan string

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
}

// NewLink starts reading lines from port. ackTimeout <= 0 uses
// DefaultAckTimeout.
func NewLink(name string, port io.ReadWriteCloser, ackTimeout time.Duration) *Link {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	l := &Link{
		name:       name,
		port:       port,
		ackTimeout: ackTimeout,
		lines:      make(chan string, 32),
		done:       make(chan struct{}),
	}
	go l.readLoop()
	return l
}

// Name returns the port name.
func (l *Link) Name() string { return l.name }

func (l *Link) readLoop() {
	defer close(l.lines)
	sc := bufio.NewScanner(l.port)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		select {
		case l.lines <- line:
		case <-l.done:
			return
		}
	}
	l.readErr = sc.Err()
}

// drain drops lines left over from earlier cycles or the boot banner.
func (l *Link) drain() {
	for {
		select {
		case _, ok := <-l.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Dispense writes the token for kind and waits for the completion line.
func (l *Link) Dispense(ctx context.Context, kind models.CommandKind) (*Result, error) {
	tok, ok := Token(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.done:
		return nil, ErrClosed
	default:
	}
	l.drain()
	started := time.Now()
	if _, err := l.port.Write([]byte(tok)); err != nil {
		return nil, fmt.Errorf("%w: write %q to %s: %v", ErrClosed, tok, l.name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.ackTimeout)
	defer cancel()

	res := &Result{Token: tok}
	for {
		select {
		case <-ctx.Done():
			res.Elapsed = time.Since(started)
			return res, fmt.Errorf("%w after %s", ErrNoCompletion, res.Elapsed.Round(time.Millisecond))
		case line, ok := <-l.lines:
			if !ok {
				if l.readErr != nil {
					return res, fmt.Errorf("%w: %v", ErrClosed, l.readErr)
				}
				return res, ErrClosed
			}
			res.Lines = append(res.Lines, line)
			if IsComplete(line) {
				res.Elapsed = time.Since(started)
				return res, nil
			}
		}
	}
}

// Close stops the reader and closes the port.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.port.Close()
	})
	return err
}

var _ Feeder = (*Link)(nil)
