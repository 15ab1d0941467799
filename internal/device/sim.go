package device

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type simLine struct {
	after time.Duration
	text  string
}

// Simulator behaves like the feeder firmware on an in-memory stream. It is
// used by `feeder bridge --simulate` and by tests.
type Simulator struct {
	cycle time.Duration

	// Jammed makes the simulator swallow commands without completing.
	Jammed atomic.Bool

	pr  *io.PipeReader
	pw  *io.PipeWriter
	out chan simLine
	wg  sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	written []byte
	feeds   atomic.Int32
}

// NewSimulator returns a simulator whose servo cycle takes cycle. It prints
// the firmware's boot banner first.
func NewSimulator(cycle time.Duration) *Simulator {
	pr, pw := io.Pipe()
	s := &Simulator{cycle: cycle, pr: pr, pw: pw, out: make(chan simLine, 64)}
	s.wg.Add(1)
	go s.printLoop()
	s.out <- simLine{text: "Feeder Ready. Sending test pulse..."}
	return s
}

func (s *Simulator) printLoop() {
	defer s.wg.Done()
	for l := range s.out {
		if l.after > 0 {
			time.Sleep(l.after)
		}
		// a closed pipe only means nobody is listening any more
		_, _ = fmt.Fprintf(s.pw, "%s\r\n", l.text)
	}
}

// Read returns the lines the firmware prints.
func (s *Simulator) Read(p []byte) (int, error) { return s.pr.Read(p) }

// Write accepts command bytes. Only 'F' is understood; anything else is
// ignored like the firmware does.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.written = append(s.written, p...)
	for _, b := range p {
		if b != 'F' || s.Jammed.Load() {
			continue
		}
		s.feeds.Add(1)
		s.out <- simLine{text: "Dispensing Food..."}
		s.out <- simLine{after: s.cycle, text: "Feed Complete."}
	}
	return len(p), nil
}

// Close ends the stream.
func (s *Simulator) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.out)
	s.mu.Unlock()

	err := s.pw.CloseWithError(io.EOF)
	s.wg.Wait()
	return err
}

// Feeds reports how many feed cycles were started.
func (s *Simulator) Feeds() int { return int(s.feeds.Load()) }

// Written returns every byte the host sent.
func (s *Simulator) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.written)
}

// NewSimulatedLink returns a Link backed by a fresh Simulator.
func NewSimulatedLink(cycle, ackTimeout time.Duration) (*Link, *Simulator) {
	sim := NewSimulator(cycle)
	return NewLink("simulator", sim, ackTimeout), sim
}
