// Package timeline assembles transcript fragments from the microphone and
// system-audio feeds into an ordered list of display messages.
package timeline

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Source int

const (
	Microphone Source = iota
	System
)

func (s Source) String() string {
	if s == System {
		return "system"
	}
	return "mic"
}

// SystemSpeakerLabel is used for system-audio messages when the backend
// provides no speaker attribution.
const SystemSpeakerLabel = "System Audio"

// Message is one entry in the timeline. While Accumulating is true the text
// is still absorbing fragments; once Final is set the message never changes.
type Message struct {
	ID            string
	Source        Source
	Text          string
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	Final         bool
	Accumulating  bool
	SpeakerID     int
	SpeakerLabel  string
}

// Timeline holds the ordered message list. All mutation goes through the two
// feed entry points and FinalizeAccumulating; a mutex serializes them so the
// at-most-one-accumulating-message-per-source invariant holds on any runtime.
type Timeline struct {
	mu          sync.Mutex
	msgs        []*Message
	diarization bool
	now         func() time.Time
}

func New() *Timeline {
	return &Timeline{now: time.Now}
}

// Reset clears all messages and sets the accumulation policy for the next
// session. Called by the session controller on every start.
func (t *Timeline) Reset(diarization bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = nil
	t.diarization = diarization
}

// FeedSystemFragment applies one system-audio transcript fragment.
//
// With diarization on, only final fragments are accepted and each one becomes
// its own immediately-final message; distinct speaker turns stay separate even
// for the same speaker. Interim diarized fragments are dropped.
//
// With diarization off, text is space-concatenated into a single rolling
// message until the burst timer or an explicit stop finalizes it.
func (t *Timeline) FeedSystemFragment(speakerID int, speakerLabel, text string, isFinal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if t.diarization {
		if !isFinal {
			return
		}
		now := t.now()
		t.msgs = append(t.msgs, &Message{
			ID:            uuid.NewString(),
			Source:        System,
			Text:          text,
			CreatedAt:     now,
			LastUpdatedAt: now,
			Final:         true,
			SpeakerID:     speakerID,
			SpeakerLabel:  speakerLabel,
		})
		return
	}

	now := t.now()
	if last := t.lastLocked(); last != nil && last.Source == System && last.Accumulating {
		last.Text = last.Text + " " + text
		last.LastUpdatedAt = now
		return
	}

	// A mic message may have landed after an open system burst. Close the
	// old burst before starting a new one so each source keeps at most one
	// accumulating message, and it is the newest for that source.
	t.finalizeLocked(System)
	t.msgs = append(t.msgs, &Message{
		ID:            uuid.NewString(),
		Source:        System,
		Text:          text,
		CreatedAt:     now,
		LastUpdatedAt: now,
		Accumulating:  true,
		SpeakerLabel:  SystemSpeakerLabel,
	})
}

// FeedMicFragment applies one microphone transcript fragment. The backend
// resends the full transcript of the current utterance on every interim
// update, so fragments replace the accumulating text rather than extend it.
func (t *Timeline) FeedMicFragment(text string, isFinal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// An empty interim update is a valid "no speech yet" state; trim but
	// do not discard.
	text = strings.TrimSpace(text)
	now := t.now()

	if open := t.openLocked(Microphone); open != nil {
		open.Text = text
		open.LastUpdatedAt = now
		if isFinal {
			open.Accumulating = false
			open.Final = true
		}
		return
	}

	t.msgs = append(t.msgs, &Message{
		ID:            uuid.NewString(),
		Source:        Microphone,
		Text:          text,
		CreatedAt:     now,
		LastUpdatedAt: now,
		Final:         isFinal,
		Accumulating:  !isFinal,
	})
}

// FinalizeAccumulating closes the open accumulating message for the given
// source, leaving its text unchanged. Returns true if a message was
// finalized. Driven by the burst timer and by feed stop.
func (t *Timeline) FinalizeAccumulating(src Source) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizeLocked(src)
}

func (t *Timeline) finalizeLocked(src Source) bool {
	if open := t.openLocked(src); open != nil {
		open.Accumulating = false
		open.Final = true
		open.LastUpdatedAt = t.now()
		return true
	}
	return false
}

func (t *Timeline) lastLocked() *Message {
	if len(t.msgs) == 0 {
		return nil
	}
	return t.msgs[len(t.msgs)-1]
}

// openLocked scans from the end for the accumulating message of src.
// At most one can exist.
func (t *Timeline) openLocked(src Source) *Message {
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].Source == src && t.msgs[i].Accumulating {
			return t.msgs[i]
		}
	}
	return nil
}

// Messages returns a snapshot copy of the timeline.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = *m
	}
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

// Transcript renders the assembled conversation as plain text, one message
// per line, prefixed with its speaker label.
func (t *Timeline) Transcript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for _, m := range t.msgs {
		label := m.SpeakerLabel
		if label == "" {
			if m.Source == Microphone {
				label = "You"
			} else {
				label = SystemSpeakerLabel
			}
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return b.String()
}
