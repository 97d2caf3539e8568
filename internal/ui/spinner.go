package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a single status line for long-running steps that
// produce no streamed output, such as provisioning probes. Not meant
// for the deploy dashboard, which has its own render loop.
type Spinner struct {
	mu      sync.Mutex
	out     io.Writer
	message string
	frame   int
	active  bool
	done    chan struct{}

	frameStyle   lipgloss.Style
	successStyle lipgloss.Style
	failStyle    lipgloss.Style
	skipStyle    lipgloss.Style
}

// NewSpinner creates a stopped spinner writing to stderr.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		out:          os.Stderr,
		message:      message,
		frameStyle:   lipgloss.NewStyle().Foreground(ColorInfo),
		successStyle: lipgloss.NewStyle().Foreground(ColorSuccess),
		failStyle:    lipgloss.NewStyle().Foreground(ColorError),
		skipStyle:    lipgloss.NewStyle().Foreground(ColorMuted),
	}
}

// SetOutput redirects spinner output, primarily for tests.
func (s *Spinner) SetOutput(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = w
}

// Start begins the animation. Calling Start on a running spinner is a
// no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.done = make(chan struct{})
	go s.animate(s.done)
}

func (s *Spinner) animate(done chan struct{}) {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.active {
				s.mu.Unlock()
				return
			}
			frame := s.frameStyle.Render(spinnerFrames[s.frame%len(spinnerFrames)])
			fmt.Fprintf(s.out, "\r\033[K%s %s", frame, s.message)
			s.frame++
			s.mu.Unlock()
		}
	}
}

// Update replaces the message shown next to the spinner.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Success stops the spinner with a final checkmark line.
func (s *Spinner) Success(message string) {
	s.finish(s.successStyle.Render(SymbolSuccess), message)
}

// Fail stops the spinner with a final failure line.
func (s *Spinner) Fail(message string) {
	s.finish(s.failStyle.Render(SymbolFail), message)
}

// Skip stops the spinner with a final skipped line.
func (s *Spinner) Skip(message string) {
	s.finish(s.skipStyle.Render(SymbolSkipped), message)
}

// Stop halts the animation and clears the line without a final message.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.done)
	fmt.Fprint(s.out, "\r\033[K")
}

func (s *Spinner) finish(symbol, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.active = false
		close(s.done)
	}
	if message == "" {
		message = s.message
	}
	fmt.Fprintf(s.out, "\r\033[K%s %s\n", symbol, message)
}
