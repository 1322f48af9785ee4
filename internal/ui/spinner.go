package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// LineSpinner animates a single status line while the terminal is not owned
// by the call screen: connecting to the relay, or ringing in headless mode.
type LineSpinner struct {
	out    io.Writer
	frames []string
	every  time.Duration

	mu      sync.Mutex
	text    string
	stop    chan struct{}
	stopped sync.WaitGroup
}

// NewLineSpinner animates kind's frames on out (stdout when nil).
func NewLineSpinner(out io.Writer, kind spinner.Spinner, text string) *LineSpinner {
	if out == nil {
		out = os.Stdout
	}
	return &LineSpinner{
		out:    out,
		frames: kind.Frames,
		every:  kind.FPS,
		text:   text,
	}
}

// Start begins drawing. Starting a running spinner does nothing.
func (s *LineSpinner) Start() *LineSpinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return s
	}
	s.stop = make(chan struct{})
	s.stopped.Add(1)
	go s.draw(s.stop)
	return s
}

func (s *LineSpinner) draw(stop <-chan struct{}) {
	defer s.stopped.Done()
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for i := 0; ; i++ {
		s.mu.Lock()
		fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(s.frames[i%len(s.frames)]), s.text)
		s.mu.Unlock()

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// SetText replaces the message shown next to the animation.
func (s *LineSpinner) SetText(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
}

// Stop clears the line. It is safe to call more than once.
func (s *LineSpinner) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return
	}

	close(stop)
	s.stopped.Wait()
	fmt.Fprint(s.out, "\r\033[K")
}

// RunConnectionSpinner shows a globe while dialing and returns its stop func.
func RunConnectionSpinner(text string) func() {
	return NewLineSpinner(nil, spinner.Globe, text).Start().Stop
}

// RunRingingSpinner pulses while a call rings and returns its stop func.
func RunRingingSpinner(text string) func() {
	return NewLineSpinner(nil, spinner.Pulse, text).Start().Stop
}
