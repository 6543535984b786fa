package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shaythuram/sally-again/audio"
	"github.com/shaythuram/sally-again/session"
	"github.com/shaythuram/sally-again/timeline"
)

type startResultMsg struct{ Err error }
type stopDoneMsg struct{}
type quitAfterStopMsg struct{}

// Pre-computed styles to avoid allocations in the render loop
var (
	styleTitle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	styleRec       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleIdle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleDim       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleInfo      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleErr       = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleOK        = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleMicLabel  = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true)
	styleText      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	styleInterim   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	styleMeterOn   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleMeterOff  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	styleHelpKey   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	styleHelp      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleSysHeader = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Bold(true)
)

type feedLine struct {
	transcribing bool
	err          error
}

type tuiModel struct {
	ctrl          *session.Controller
	backendURL    string
	captureSource audio.Source
	micDevice     *audio.DeviceInfo

	state       session.State
	diarization bool
	elapsed     int
	msgs        []timeline.Message
	sysLevel    float64
	micLevel    float64
	sysFeed     feedLine
	micFeed     feedLine
	startErr    string
	copied      bool
	quitting    bool

	width, height int
}

func NewTUIProgram(ctrl *session.Controller, backendURL string, source audio.Source, mic *audio.DeviceInfo, diarization bool) *tea.Program {
	m := tuiModel{
		ctrl:          ctrl,
		backendURL:    backendURL,
		captureSource: source,
		micDevice:     mic,
		diarization:   diarization,
	}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func (m tuiModel) sessionConfig() session.Config {
	return session.Config{
		BackendURL:    m.backendURL,
		Diarization:   m.diarization,
		CaptureSource: m.captureSource,
		MicDevice:     m.micDevice,
	}
}

func (m tuiModel) startCmd() tea.Cmd {
	cfg := m.sessionConfig()
	ctrl := m.ctrl
	return func() tea.Msg {
		return startResultMsg{Err: ctrl.Start(cfg)}
	}
}

func (m tuiModel) stopCmd(quitAfter bool) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Stop()
		if quitAfter {
			return quitAfterStopMsg{}
		}
		return stopDoneMsg{}
	}
}

func (m tuiModel) copyCmd() tea.Cmd {
	text := m.ctrl.Timeline().Transcript()
	return func() tea.Msg {
		if text == "" {
			return CopiedMsg{OK: false}
		}
		return CopiedMsg{OK: clipboard.WriteAll(text) == nil}
	}
}

func clearCopied() tea.Cmd {
	return tea.Tick(1500*time.Millisecond, func(time.Time) tea.Msg {
		return copiedClearMsg{}
	})
}

func (m tuiModel) Init() tea.Cmd {
	return nil
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case startResultMsg:
		if msg.Err != nil {
			m.startErr = msg.Err.Error()
		}

	case stopDoneMsg:
		// State transitions arrive via SessionStateMsg.

	case quitAfterStopMsg:
		return m, tea.Quit

	case SessionStateMsg:
		m.state = msg.State
		switch msg.State {
		case session.Starting:
			m.startErr = ""
			m.elapsed = 0
			m.msgs = nil
			m.sysFeed = feedLine{}
			m.micFeed = feedLine{}
		case session.Idle:
			m.sysLevel = 0
			m.micLevel = 0
		}

	case ElapsedMsg:
		m.elapsed = msg.Seconds

	case TimelineMsg:
		m.msgs = m.ctrl.Timeline().Messages()

	case AudioLevelMsg:
		// Smooth so the meter does not flicker.
		if msg.Source == timeline.System {
			m.sysLevel = m.sysLevel*0.6 + msg.Level*0.4
		} else {
			m.micLevel = m.micLevel*0.6 + msg.Level*0.4
		}

	case FeedStatusMsg:
		line := feedLine{transcribing: msg.Transcribing, err: msg.Err}
		if msg.Source == timeline.System {
			m.sysFeed = line
		} else {
			m.micFeed = line
		}

	case CopiedMsg:
		m.copied = msg.OK
		if msg.OK {
			return m, clearCopied()
		}

	case copiedClearMsg:
		m.copied = false
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		if m.state == session.Recording {
			return m, m.stopCmd(true)
		}
		return m, tea.Quit

	case "r", " ":
		switch m.state {
		case session.Idle:
			return m, m.startCmd()
		case session.Recording:
			return m, m.stopCmd(false)
		}

	case "d":
		if m.state == session.Idle {
			m.diarization = !m.diarization
		}

	case "c":
		return m, m.copyCmd()
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.quitting {
		return "Stopping..."
	}

	head := []string{
		styleTitle.Render("sally " + version),
		m.statusLine(),
		styleDim.Render("source: " + m.captureSource.Name),
		styleDim.Render("mic: " + micLabel(m.micDevice)),
		styleInfo.Render(m.modeLine()),
		m.feedStatusLine("system", m.sysFeed, m.sysLevel),
		m.feedStatusLine("mic", m.micFeed, m.micLevel),
	}
	if m.startErr != "" {
		head = append(head, styleErr.Render("start failed: "+m.startErr))
	}
	head = append(head, "")

	var b strings.Builder
	for _, line := range head {
		b.WriteString(line + "\n")
	}

	// Footer is the blank line plus the help line below the timeline.
	footer := 2
	budget := m.height - len(head) - footer
	if budget < 3 {
		budget = 3
	}
	b.WriteString(m.renderTimeline(budget))

	b.WriteString("\n")
	b.WriteString(m.helpLine())
	return b.String()
}

func (m tuiModel) statusLine() string {
	if m.state == session.Recording || m.state == session.Stopping {
		return styleRec.Render(fmt.Sprintf("● REC %02d:%02d", m.elapsed/60, m.elapsed%60))
	}
	if m.state == session.Starting {
		return styleInfo.Render("◌ CONNECTING")
	}
	return styleIdle.Render("○ IDLE")
}

func (m tuiModel) modeLine() string {
	mode := "burst mode"
	if m.diarization {
		mode = "diarization on"
	}
	return fmt.Sprintf("[%s | %s]", mode, m.backendURL)
}

func micLabel(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "system default"
	}
	name := dev.Name
	if audio.IsBluetooth(name) {
		name += " (BT!)"
	}
	return name
}

const meterWidth = 16

func renderMeter(level float64) string {
	scaled := level * 6
	if scaled > 1 {
		scaled = 1
	}
	filled := int(scaled * meterWidth)
	return styleMeterOn.Render(strings.Repeat("█", filled)) +
		styleMeterOff.Render(strings.Repeat("░", meterWidth-filled))
}

func (m tuiModel) feedStatusLine(name string, f feedLine, level float64) string {
	label := styleDim.Render(fmt.Sprintf("%-7s", name))
	switch {
	case f.err != nil:
		return label + renderMeter(0) + " " + styleErr.Render(f.err.Error())
	case f.transcribing:
		return label + renderMeter(level) + " " + styleOK.Render("transcribing")
	default:
		return label + renderMeter(0) + " " + styleDim.Render("off")
	}
}

// renderTimeline shows the tail of the conversation that fits in the
// given number of rows, newest at the bottom.
func (m tuiModel) renderTimeline(rows int) string {
	wrapWidth := m.width - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	if len(m.msgs) == 0 {
		return styleDim.Render("No messages yet. Press r to start recording.") + "\n" +
			strings.Repeat("\n", rows-1)
	}

	var lines []string
	for i := range m.msgs {
		lines = append(lines, m.renderMessage(&m.msgs[i], wrapWidth)...)
		lines = append(lines, "")
	}
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}
	for len(lines) < rows {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m tuiModel) renderMessage(msg *timeline.Message, wrapWidth int) []string {
	var header string
	if msg.Source == timeline.Microphone {
		header = styleMicLabel.Render("You")
	} else {
		label := msg.SpeakerLabel
		if label == "" {
			label = timeline.SystemSpeakerLabel
		}
		style := styleSysHeader
		if m.diarization {
			style = lipgloss.NewStyle().Foreground(m.ctrl.Speakers().ColorFor(msg.SpeakerID)).Bold(true)
		}
		header = style.Render(label)
	}

	text := msg.Text
	style := styleText
	if !msg.Final {
		style = styleInterim
	}
	if msg.Accumulating || !msg.Final {
		text += " …"
	}

	out := []string{header}
	for _, line := range wrapText(text, wrapWidth) {
		out = append(out, style.Render(line))
	}
	return out
}

func (m tuiModel) helpLine() string {
	parts := []string{
		styleHelpKey.Render("r") + styleHelp.Render(" record/stop"),
		styleHelpKey.Render("d") + styleHelp.Render(" diarization"),
		styleHelpKey.Render("c") + styleHelp.Render(" copy"),
		styleHelpKey.Render("q") + styleHelp.Render(" quit"),
	}
	line := strings.Join(parts, styleHelp.Render("  "))
	if m.copied {
		line += "  " + styleOK.Render("[✓ copied]")
	}
	return line
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
