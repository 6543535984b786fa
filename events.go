package main

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/shaythuram/sally-again/session"
	"github.com/shaythuram/sally-again/timeline"
)

// TUI message types
type SessionStateMsg struct{ State session.State }
type ElapsedMsg struct{ Seconds int }
type TimelineMsg struct{}
type AudioLevelMsg struct {
	Source timeline.Source
	Level  float64
}
type FeedStatusMsg struct {
	Source       timeline.Source
	Transcribing bool
	Err          error
}
type CopiedMsg struct{ OK bool }
type copiedClearMsg struct{}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink forwards controller events into the Bubble Tea program. Calls
// arrive from capture callbacks and feed goroutines; Program.Send is
// safe for that.
type tuiSink struct{}

func (tuiSink) SessionState(state session.State) { tuiSend(SessionStateMsg{State: state}) }
func (tuiSink) ElapsedTick(seconds int)          { tuiSend(ElapsedMsg{Seconds: seconds}) }
func (tuiSink) TimelineUpdated()                 { tuiSend(TimelineMsg{}) }

func (tuiSink) AudioLevel(source timeline.Source, level float64) {
	tuiSend(AudioLevelMsg{Source: source, Level: level})
}

func (tuiSink) FeedStatus(source timeline.Source, transcribing bool, err error) {
	tuiSend(FeedStatusMsg{Source: source, Transcribing: transcribing, Err: err})
}
