package session

import "github.com/shaythuram/sally-again/timeline"

// State is the controller's lifecycle position.
type State int

const (
	Idle State = iota
	Starting
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// EventSink abstracts the display layer so the TUI (or a headless test
// harness) can observe session and timeline activity.
type EventSink interface {
	SessionState(state State)
	ElapsedTick(seconds int)
	TimelineUpdated()
	AudioLevel(source timeline.Source, level float64)
	FeedStatus(source timeline.Source, transcribing bool, err error)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) SessionState(State)                      {}
func (NopSink) ElapsedTick(int)                         {}
func (NopSink) TimelineUpdated()                        {}
func (NopSink) AudioLevel(timeline.Source, float64)     {}
func (NopSink) FeedStatus(timeline.Source, bool, error) {}
