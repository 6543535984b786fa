// Package transport maintains one duplex websocket channel per audio feed,
// streaming PCM frames out and transcript fragments back in.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shaythuram/sally-again/encoder"
	"github.com/shaythuram/sally-again/log"
)

const (
	streamChunkMs    = 200
	streamChunkBytes = encoder.SampleRate * encoder.Channels * (encoder.BitsPerSample / 8) * streamChunkMs / 1000
	stopAckMax       = 1000 * time.Millisecond
	recvDrainMax     = 2 * time.Second
)

// ErrConnectionLost marks an abnormal close (any code other than 1000).
var ErrConnectionLost = errors.New("connection lost unexpectedly")

// Conn is the raw message connection a Channel runs over. The real
// implementation wraps a websocket; tests substitute a fake.
type Conn interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	Close() error
}

type Stats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	SessionDur   time.Duration
}

// Channel owns one backend connection's lifecycle. Events() delivers typed
// inbound events in arrival order and is closed after the final Closed event.
type Channel struct {
	name      string
	conn      Conn
	events    chan Event
	audioCh   chan []byte
	startedAt time.Time
	connected chan struct{} // closed when the dial resolves (ok or not)

	sendDone    chan struct{}
	recvDone    chan struct{}
	stopAcked   chan struct{}
	stopAckOnce sync.Once
	stopOnce    sync.Once

	feedBuf     []byte
	audioClosed bool // audioCh closed; set and checked under feedMu
	feedMu      sync.Mutex

	mu      sync.Mutex
	err     error
	errOnce sync.Once
	closing bool
	stats   Stats
}

// Open dials asynchronously and returns immediately; the Connected event (or
// a Closed event carrying the dial error) arrives on Events().
func Open(name string, dial func() (Conn, error), diarization bool) *Channel {
	c := &Channel{
		name:      name,
		events:    make(chan Event, 64),
		audioCh:   make(chan []byte, 128),
		startedAt: time.Now(),
		connected: make(chan struct{}),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		stopAcked: make(chan struct{}),
	}

	go func() {
		connectStart := time.Now()
		conn, err := dial()
		c.mu.Lock()
		c.stats.ConnectDur = time.Since(connectStart)
		c.mu.Unlock()

		if err != nil {
			c.setErr(fmt.Errorf("open channel: %w", err))
			close(c.sendDone)
			close(c.recvDone)
			close(c.connected)
			c.events <- Event{Kind: Closed, Err: err}
			close(c.events)
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		if err := conn.Send(marshalStart(diarization)); err != nil {
			c.setErr(err)
		}
		close(c.connected)
		c.events <- Event{Kind: Connected}
		go c.runSender()
		go c.runReceiver()
	}()

	return c
}

// SendAudio enqueues raw PCM16 bytes. Data is chunked to fixed-duration
// frames and base64-encoded by the sender goroutine. Safe to call from the
// capture callback; drops input once the channel has failed.
func (c *Channel) SendAudio(pcm []byte) {
	c.mu.Lock()
	if c.err != nil || c.closing {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// The enqueue happens under feedMu, the same lock stop() holds while
	// closing audioCh, so a capture callback racing Stop can never send
	// on a closed channel.
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	if c.audioClosed {
		return
	}
	c.feedBuf = append(c.feedBuf, pcm...)
	for len(c.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, c.feedBuf[:streamChunkBytes])
		c.feedBuf = c.feedBuf[streamChunkBytes:]
		select {
		case c.audioCh <- chunk:
		default:
			// Backend is not keeping up; dropping audio beats blocking
			// the capture callback.
		}
	}
}

// Events returns the inbound event stream. Closed after the Closed event.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Err returns the channel's failure, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stop flushes buffered audio, sends stop_transcription, waits briefly for
// the backend acknowledgment, and closes the connection. Idempotent.
func (c *Channel) Stop() {
	c.stopOnce.Do(c.stop)
}

func (c *Channel) stop() {
	<-c.connected

	c.mu.Lock()
	failed := c.err != nil && c.conn == nil
	c.mu.Unlock()
	if failed {
		// Dial never succeeded; nothing to flush or close.
		c.feedMu.Lock()
		c.feedBuf = nil
		c.audioClosed = true
		c.feedMu.Unlock()
		return
	}

	// Flush the sub-chunk tail so the backend transcribes everything.
	// audioCh is closed under feedMu, serialized against SendAudio.
	c.feedMu.Lock()
	if len(c.feedBuf) > 0 {
		tail := make([]byte, len(c.feedBuf))
		copy(tail, c.feedBuf)
		c.feedBuf = nil
		select {
		case c.audioCh <- tail:
		default:
		}
	}
	c.audioClosed = true
	close(c.audioCh)
	c.feedMu.Unlock()
	<-c.sendDone

	select {
	case <-c.stopAcked:
	case <-time.After(stopAckMax):
	}

	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.conn.Close()
	select {
	case <-c.recvDone:
	case <-time.After(recvDrainMax):
		log.Warnf("%s: receiver drain timeout", c.name)
	}

	c.mu.Lock()
	c.stats.SessionDur = time.Since(c.startedAt)
	stats := c.stats
	c.mu.Unlock()
	log.FeedStats(c.name, log.FeedStatsData{
		ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
		SentChunks:   stats.SentChunks,
		SentKB:       float64(stats.SentBytes) / 1024,
		RecvMessages: stats.RecvMessages,
		RecvFinal:    stats.RecvFinal,
		RecvInterim:  stats.RecvInterim,
		TotalMs:      float64(stats.SessionDur.Milliseconds()),
	})
}

// Stats returns a snapshot of the channel's counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Channel) runSender() {
	defer close(c.sendDone)
	for chunk := range c.audioCh {
		if err := c.conn.Send(marshalAudio(encoder.Base64(chunk))); err != nil {
			c.setErr(err)
			return
		}
		c.mu.Lock()
		c.stats.SentChunks++
		c.stats.SentBytes += uint64(len(chunk))
		c.mu.Unlock()
	}
	if err := c.conn.Send(marshalStop()); err != nil {
		c.setErr(err)
	}
}

func (c *Channel) runReceiver() {
	defer close(c.recvDone)
	defer close(c.events)
	for {
		data, err := c.conn.Recv()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if closing || errors.Is(err, errNormalClosure) {
				c.events <- Event{Kind: Closed}
				return
			}
			c.setErr(err)
			c.events <- Event{Kind: Closed, Err: fmt.Errorf("%w: %v", ErrConnectionLost, err)}
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warnf("%s: bad frame: %v", c.name, err)
			continue
		}

		switch frame.Type {
		case "transcription":
			c.mu.Lock()
			c.stats.RecvMessages++
			if frame.IsFinal {
				c.stats.RecvFinal++
			} else {
				c.stats.RecvInterim++
			}
			c.mu.Unlock()

			ev := Event{
				Kind:       Fragment,
				Transcript: frame.Transcript,
				IsFinal:    frame.IsFinal,
			}
			if frame.Speaker != nil {
				ev.Speaker = *frame.Speaker
				ev.HasSpeaker = true
				ev.SpeakerLabel = frame.SpeakerLabel
			}
			c.events <- ev

		case "transcription_stopped":
			c.stopAckOnce.Do(func() { close(c.stopAcked) })
			c.events <- Event{Kind: Stopped}

		case "error":
			c.events <- Event{Kind: BackendError, Err: errors.New(frame.Message)}

		default:
			log.Warnf("%s: unknown frame type %q", c.name, frame.Type)
		}
	}
}

func (c *Channel) setErr(err error) {
	if err == nil {
		return
	}
	c.errOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		conn := c.conn
		c.mu.Unlock()
		log.FeedError(c.name, err)
		if conn != nil {
			conn.Close()
		}
	})
}
