package timeline

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// speakerPalette holds the display colors handed out to speakers, in
// assignment order. Cycled when more speakers appear than colors exist.
var speakerPalette = []lipgloss.Color{
	"39",  // blue
	"208", // orange
	"42",  // green
	"170", // magenta
	"214", // amber
	"81",  // cyan
	"203", // salmon
	"120", // light green
}

// SpeakerRegistry assigns a stable display color to each speaker id for the
// duration of a recording session. First sighting gets the next palette
// entry; colors are a display aid, not an identity contract.
type SpeakerRegistry struct {
	mu     sync.Mutex
	colors map[int]lipgloss.Color
}

func NewSpeakerRegistry() *SpeakerRegistry {
	return &SpeakerRegistry{colors: make(map[int]lipgloss.Color)}
}

func (r *SpeakerRegistry) ColorFor(speakerID int) lipgloss.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.colors[speakerID]; ok {
		return c
	}
	c := speakerPalette[len(r.colors)%len(speakerPalette)]
	r.colors[speakerID] = c
	return c
}

func (r *SpeakerRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.colors)
}

// Reset drops all assignments. Called at the start of every session.
func (r *SpeakerRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colors = make(map[int]lipgloss.Color)
}
