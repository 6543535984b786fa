// Package session coordinates one recording session: both capture feeds,
// their transport channels, the elapsed-time counter, and the burst timer
// that bounds how long a system-audio message stays open.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shaythuram/sally-again/audio"
	"github.com/shaythuram/sally-again/encoder"
	"github.com/shaythuram/sally-again/log"
	"github.com/shaythuram/sally-again/timeline"
	"github.com/shaythuram/sally-again/transport"
)

const (
	// DefaultBurstPeriod bounds how long a diarization-off system message
	// keeps accumulating before it is finalized in place.
	DefaultBurstPeriod = 5 * time.Second
	elapsedTick        = 1 * time.Second
)

var (
	ErrNoCaptureSource   = errors.New("no capture source selected")
	ErrNotIdle           = errors.New("session already active")
	ErrDeviceAcquisition = errors.New("device acquisition failed")
)

// DialFactory returns the dial closure for a feed's transport channel.
// Injected by tests; the default dials the configured backend endpoint.
type DialFactory func(feed string) func() (transport.Conn, error)

type Config struct {
	BackendURL    string
	Diarization   bool
	CaptureSource audio.Source      // system-audio source, screen:-prefixed
	MicDevice     *audio.DeviceInfo // nil means system default microphone
	BurstPeriod   time.Duration     // zero means DefaultBurstPeriod
	Dial          DialFactory       // nil means dial BackendURL
}

// feed bundles one source's capture device and transport channel with its
// error state. The two feeds are independent failure domains.
type feed struct {
	name    string
	source  timeline.Source
	channel *transport.Channel
	capture audio.CaptureDevice

	mu           sync.Mutex
	transcribing bool
	lastErr      error
	stopped      bool
}

func (f *feed) setStopped() {
	f.mu.Lock()
	f.stopped = true
	f.transcribing = false
	f.mu.Unlock()
}

func (f *feed) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *feed) setStatus(transcribing bool, err error) {
	f.mu.Lock()
	f.transcribing = transcribing
	if err != nil {
		f.lastErr = err
	}
	f.mu.Unlock()
}

func (f *feed) status() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcribing, f.lastErr
}

// Controller owns the session state machine:
// Idle -> Starting -> Recording -> Stopping -> Idle.
type Controller struct {
	captureCtx audio.Context
	sink       EventSink

	mu      sync.Mutex
	state   State
	cfg     Config
	elapsed int

	tl       *timeline.Timeline
	speakers *timeline.SpeakerRegistry

	sysFeed *feed
	micFeed *feed

	stopTimers chan struct{}
	wg         sync.WaitGroup
}

func NewController(captureCtx audio.Context, sink EventSink) *Controller {
	if sink == nil {
		sink = NopSink{}
	}
	return &Controller{
		captureCtx: captureCtx,
		sink:       sink,
		tl:         timeline.New(),
		speakers:   timeline.NewSpeakerRegistry(),
	}
}

// Timeline exposes the message list for rendering. Mutation stays inside
// the controller and its feeds.
func (c *Controller) Timeline() *timeline.Timeline { return c.tl }

// Speakers exposes the per-session speaker color registry.
func (c *Controller) Speakers() *timeline.SpeakerRegistry { return c.speakers }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// FeedStatus reports a feed's transcribing flag and its retained last error.
func (c *Controller) FeedStatus(src timeline.Source) (transcribing bool, lastErr error) {
	c.mu.Lock()
	f := c.feedFor(src)
	c.mu.Unlock()
	if f == nil {
		return false, nil
	}
	return f.status()
}

func (c *Controller) feedFor(src timeline.Source) *feed {
	if src == timeline.System {
		return c.sysFeed
	}
	return c.micFeed
}

// Start opens both feeds and begins recording. Fails fast, transitioning
// back to Idle, when no capture source is selected or a device cannot be
// acquired.
func (c *Controller) Start(cfg Config) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.state = Starting
	c.mu.Unlock()
	c.sink.SessionState(Starting)

	if err := c.start(cfg); err != nil {
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
		c.sink.SessionState(Idle)
		return err
	}

	c.mu.Lock()
	c.state = Recording
	c.mu.Unlock()
	c.sink.SessionState(Recording)
	log.SessionStart(cfg.CaptureSource.Name, cfg.Diarization)
	return nil
}

func (c *Controller) start(cfg Config) error {
	if cfg.CaptureSource.ID == "" {
		return ErrNoCaptureSource
	}
	if cfg.BurstPeriod == 0 {
		cfg.BurstPeriod = DefaultBurstPeriod
	}
	if cfg.Dial == nil {
		backend := cfg.BackendURL
		cfg.Dial = func(feed string) func() (transport.Conn, error) {
			return transport.DialFunc(context.Background(), backend)
		}
	}

	// Fresh session state: the timeline, speaker colors, and clock all
	// reset on every start.
	c.tl.Reset(cfg.Diarization)
	c.speakers.Reset()
	c.mu.Lock()
	c.cfg = cfg
	c.elapsed = 0
	c.mu.Unlock()

	captureConfig := audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	}

	sysDevice := &audio.DeviceInfo{ID: cfg.CaptureSource.DeviceID(), Name: cfg.CaptureSource.Name}
	sysCapture, err := c.captureCtx.NewCapture(sysDevice, captureConfig)
	if err != nil {
		return fmt.Errorf("%w: system source: %v", ErrDeviceAcquisition, err)
	}
	micCapture, err := c.captureCtx.NewCapture(cfg.MicDevice, captureConfig)
	if err != nil {
		sysCapture.Close()
		return fmt.Errorf("%w: microphone: %v", ErrDeviceAcquisition, err)
	}

	c.mu.Lock()
	c.sysFeed = &feed{
		name:    "system",
		source:  timeline.System,
		capture: sysCapture,
		channel: transport.Open("system", cfg.Dial("system"), cfg.Diarization),
	}
	c.micFeed = &feed{
		name:    "mic",
		source:  timeline.Microphone,
		capture: micCapture,
		channel: transport.Open("mic", cfg.Dial("mic"), false),
	}
	c.stopTimers = make(chan struct{})
	c.mu.Unlock()
	for _, f := range []*feed{c.sysFeed, c.micFeed} {
		c.wg.Add(1)
		go c.consume(f)
	}
	c.wg.Add(1)
	go c.runElapsedTicker()
	if !cfg.Diarization {
		c.wg.Add(1)
		go c.runBurstTimer(cfg.BurstPeriod)
	}
	return nil
}

// consume applies a feed's channel events in arrival order. This is the
// only goroutine that mutates the timeline for its source, so fragments
// are never reordered.
func (c *Controller) consume(f *feed) {
	defer c.wg.Done()
	for ev := range f.channel.Events() {
		switch ev.Kind {
		case transport.Connected:
			c.attachCapture(f)

		case transport.Fragment:
			if f.isStopped() {
				continue
			}
			c.applyFragment(f, ev)

		case transport.Stopped:
			f.setStatus(false, nil)
			c.sink.FeedStatus(f.source, false, nil)

		case transport.BackendError:
			f.setStatus(false, ev.Err)
			c.sink.FeedStatus(f.source, false, ev.Err)
			log.FeedError(f.name, ev.Err)

		case transport.Closed:
			f.setStatus(false, ev.Err)
			c.sink.FeedStatus(f.source, false, ev.Err)
			if ev.Err != nil {
				log.FeedError(f.name, ev.Err)
			}
		}
	}
}

// attachCapture wires the capture callback into the transport channel once
// the backend connection is up.
func (c *Controller) attachCapture(f *feed) {
	f.setStatus(true, nil)
	c.sink.FeedStatus(f.source, true, nil)

	source := f.source
	channel := f.channel
	f.capture.SetCallback(func(data []byte, frameCount uint32) {
		if len(data) == 0 {
			return
		}
		pcm := make([]byte, len(data))
		copy(pcm, data)
		channel.SendAudio(pcm)
		c.sink.AudioLevel(source, encoder.Level(data))
	})
	if err := f.capture.Start(); err != nil {
		f.setStatus(false, fmt.Errorf("%w: %v", ErrDeviceAcquisition, err))
		c.sink.FeedStatus(f.source, false, err)
		log.FeedError(f.name, err)
	}
}

func (c *Controller) applyFragment(f *feed, ev transport.Event) {
	if f.source == timeline.System {
		speaker := 0
		label := ""
		if ev.HasSpeaker {
			speaker = ev.Speaker
			label = ev.SpeakerLabel
			c.speakers.ColorFor(speaker)
		}
		c.tl.FeedSystemFragment(speaker, label, ev.Transcript, ev.IsFinal)
	} else {
		c.tl.FeedMicFragment(ev.Transcript, ev.IsFinal)
	}
	c.sink.TimelineUpdated()
}

func (c *Controller) runElapsedTicker() {
	defer c.wg.Done()
	ticker := time.NewTicker(elapsedTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopTimers:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.elapsed++
			n := c.elapsed
			c.mu.Unlock()
			c.sink.ElapsedTick(n)
		}
	}
}

// runBurstTimer finalizes the open system burst message on a fixed period
// so the display shows progress even without utterance boundaries from the
// backend.
func (c *Controller) runBurstTimer(period time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopTimers:
			return
		case <-ticker.C:
			if transcribing, _ := c.sysFeed.status(); !transcribing {
				continue
			}
			if c.tl.FinalizeAccumulating(timeline.System) {
				c.sink.TimelineUpdated()
			}
		}
	}
}

// Stop tears the session down. Idempotent: a second call is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return
	}
	c.state = Stopping
	elapsed := c.elapsed
	c.mu.Unlock()
	c.sink.SessionState(Stopping)

	close(c.stopTimers)

	for _, f := range []*feed{c.sysFeed, c.micFeed} {
		if f == nil {
			continue
		}
		// Future fragments are ignored from here on, and the open
		// accumulating message is flushed synchronously.
		f.setStopped()
		f.capture.Stop()
		f.capture.ClearCallback()
		if c.tl.FinalizeAccumulating(f.source) {
			c.sink.TimelineUpdated()
		}
	}

	// Channel stops block on the stop handshake; run them together.
	var stops sync.WaitGroup
	for _, f := range []*feed{c.sysFeed, c.micFeed} {
		if f == nil {
			continue
		}
		stops.Add(1)
		go func(f *feed) {
			defer stops.Done()
			f.channel.Stop()
		}(f)
	}
	stops.Wait()
	c.wg.Wait()

	for _, f := range []*feed{c.sysFeed, c.micFeed} {
		if f != nil {
			f.capture.Close()
		}
	}

	for _, m := range c.tl.Messages() {
		if m.Final {
			log.TranscriptText(m.Source.String(), m.Text)
		}
	}
	log.SessionEnd(c.tl.Len(), elapsed)

	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
	c.sink.SessionState(Idle)
}
