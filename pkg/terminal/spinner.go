package terminal

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a wait indicator on a TTY. A disabled spinner is inert,
// so callers never branch on whether output is interactive.
type Spinner struct {
	out     io.Writer
	enabled bool

	mu      sync.Mutex
	message string
	current int
	done    chan struct{}
	stopped bool
}

// NewSpinner builds a spinner writing to out. Pass enabled=false for
// non-interactive output; Start and Stop then do nothing.
func NewSpinner(out io.Writer, message string, enabled bool) *Spinner {
	return &Spinner{
		out:     out,
		enabled: enabled,
		message: message,
		done:    make(chan struct{}),
	}
}

// SetMessage swaps the text next to the animation.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Start begins animating.
func (s *Spinner) Start() {
	if !s.enabled {
		return
	}
	go s.run()
}

func (s *Spinner) run() {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := spinnerFrames[s.current%len(spinnerFrames)]
			msg := s.message
			s.current++
			s.mu.Unlock()
			fmt.Fprintf(s.out, "\r%s %s", frame, msg)
		}
	}
}

// Stop halts the animation and clears the line. Safe to call twice.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	if s.enabled {
		fmt.Fprint(s.out, "\r\033[K")
	}
}
