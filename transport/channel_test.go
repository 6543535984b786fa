package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaythuram/sally-again/encoder"
)

func dialFake(conn *FakeConn) func() (Conn, error) {
	return func() (Conn, error) { return conn, nil }
}

func waitEvent(t *testing.T, ch *Channel, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v event", kind)
		}
	}
}

func TestOpenSendsStartFrame(t *testing.T) {
	conn := NewFakeConn()
	ch := Open("system", dialFake(conn), true)
	waitEvent(t, ch, Connected)

	frames := conn.SentFrames()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	var start startFrame
	if err := json.Unmarshal(frames[0], &start); err != nil {
		t.Fatal(err)
	}
	if start.Type != "start_transcription" {
		t.Errorf("type = %q, want start_transcription", start.Type)
	}
	if !start.Diarization {
		t.Error("diarization flag not set")
	}

	conn.Close()
	waitEvent(t, ch, Closed)
}

func TestOpenDialFailure(t *testing.T) {
	dialErr := errors.New("refused")
	ch := Open("mic", func() (Conn, error) { return nil, dialErr }, false)

	ev := waitEvent(t, ch, Closed)
	if !errors.Is(ev.Err, dialErr) {
		t.Errorf("Closed.Err = %v, want %v", ev.Err, dialErr)
	}
	if ch.Err() == nil {
		t.Error("channel error not recorded")
	}

	// Stop after a failed dial must not hang or panic.
	ch.Stop()
}

func TestFragmentDeliveryInOrder(t *testing.T) {
	conn := NewFakeConn()
	ch := Open("mic", dialFake(conn), false)
	waitEvent(t, ch, Connected)

	conn.DeliverTranscription("he", false, nil, "")
	conn.DeliverTranscription("hello", false, nil, "")
	conn.DeliverTranscription("hello there", true, nil, "")

	first := waitEvent(t, ch, Fragment)
	second := waitEvent(t, ch, Fragment)
	third := waitEvent(t, ch, Fragment)

	if first.Transcript != "he" || second.Transcript != "hello" || third.Transcript != "hello there" {
		t.Errorf("fragments out of order: %q %q %q", first.Transcript, second.Transcript, third.Transcript)
	}
	if first.IsFinal || second.IsFinal || !third.IsFinal {
		t.Error("is_final flags wrong")
	}

	conn.Close()
	waitEvent(t, ch, Closed)
}

func TestFragmentCarriesSpeaker(t *testing.T) {
	conn := NewFakeConn()
	ch := Open("system", dialFake(conn), true)
	waitEvent(t, ch, Connected)

	speaker := 2
	conn.DeliverTranscription("hi", true, &speaker, "Speaker 2")
	ev := waitEvent(t, ch, Fragment)

	if !ev.HasSpeaker || ev.Speaker != 2 || ev.SpeakerLabel != "Speaker 2" {
		t.Errorf("speaker = (%v, %d, %q), want (true, 2, Speaker 2)", ev.HasSpeaker, ev.Speaker, ev.SpeakerLabel)
	}

	conn.Close()
	waitEvent(t, ch, Closed)
}

func TestBackendErrorFrame(t *testing.T) {
	conn := NewFakeConn()
	ch := Open("system", dialFake(conn), false)
	waitEvent(t, ch, Connected)

	conn.DeliverError("model overloaded")
	ev := waitEvent(t, ch, BackendError)
	if ev.Err == nil || ev.Err.Error() != "model overloaded" {
		t.Errorf("BackendError.Err = %v, want model overloaded", ev.Err)
	}

	conn.Close()
	waitEvent(t, ch, Closed)
}

func TestAbnormalCloseSurfacesConnectionLost(t *testing.T) {
	conn := NewFakeConn()
	ch := Open("mic", dialFake(conn), false)
	waitEvent(t, ch, Connected)

	conn.FailRecv(errors.New("reset by peer"))
	ev := waitEvent(t, ch, Closed)
	if !errors.Is(ev.Err, ErrConnectionLost) {
		t.Errorf("Closed.Err = %v, want ErrConnectionLost", ev.Err)
	}
}

func TestAudioChunkingAndStopFrame(t *testing.T) {
	conn := NewFakeConn()
	ch := Open("mic", dialFake(conn), false)
	waitEvent(t, ch, Connected)

	// One full chunk plus a tail that only the stop flush should send.
	pcm := make([]byte, streamChunkBytes+streamChunkBytes/2)
	ch.SendAudio(pcm)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch.Events() {
		}
	}()
	go func() {
		// Ack stop so Stop() does not wait out the timeout.
		time.Sleep(50 * time.Millisecond)
		conn.DeliverStopped()
	}()
	ch.Stop()
	<-done

	var audioFrames int
	var sawStop bool
	var tailBytes int
	for _, raw := range conn.SentFrames() {
		var probe struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			t.Fatal(err)
		}
		switch probe.Type {
		case "audio_data":
			audioFrames++
			tailBytes = len(probe.Data)
		case "stop_transcription":
			sawStop = true
		}
	}
	if audioFrames != 2 {
		t.Errorf("got %d audio frames, want 2 (chunk + flushed tail)", audioFrames)
	}
	if tailBytes == 0 {
		t.Error("flushed tail frame is empty")
	}
	if !sawStop {
		t.Error("stop_transcription frame not sent")
	}

	stats := ch.Stats()
	if int(stats.SentBytes) != len(pcm) {
		t.Errorf("SentBytes = %d, want %d", stats.SentBytes, len(pcm))
	}
}

func TestStopIdempotent(t *testing.T) {
	conn := NewFakeConn()
	ch := Open("system", dialFake(conn), false)
	waitEvent(t, ch, Connected)

	go func() {
		for range ch.Events() {
		}
	}()
	go conn.DeliverStopped()
	ch.Stop()
	ch.Stop() // no panic, no double close
}

func TestSendAudioConcurrentWithStop(t *testing.T) {
	for i := 0; i < 200; i++ {
		conn := NewFakeConn()
		ch := Open("mic", dialFake(conn), false)
		waitEvent(t, ch, Connected)

		go func() {
			for range ch.Events() {
			}
		}()

		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			pcm := make([]byte, streamChunkBytes)
			for {
				select {
				case <-done:
					return
				default:
					ch.SendAudio(pcm) // must never hit a closed audioCh
				}
			}
		}()

		conn.DeliverStopped()
		ch.Stop()
		close(done)
		wg.Wait()
	}
}

func TestSendAudioAfterFailureDropped(t *testing.T) {
	conn := NewFakeConn()
	ch := Open("mic", dialFake(conn), false)
	waitEvent(t, ch, Connected)

	conn.SetSendErr(errors.New("broken pipe"))
	ch.SendAudio(make([]byte, streamChunkBytes))

	// Wait for the sender to hit the error.
	deadline := time.After(2 * time.Second)
	for ch.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("channel error never recorded")
		case <-time.After(5 * time.Millisecond):
		}
	}

	before := ch.Stats().SentBytes
	ch.SendAudio(make([]byte, streamChunkBytes))
	if got := ch.Stats().SentBytes; got != before {
		t.Errorf("SentBytes grew after failure: %d -> %d", before, got)
	}
}

func TestChunkSizeMatchesDuration(t *testing.T) {
	// 200ms of 16kHz mono PCM16.
	want := encoder.SampleRate * 2 * streamChunkMs / 1000
	if streamChunkBytes != want {
		t.Errorf("streamChunkBytes = %d, want %d", streamChunkBytes, want)
	}
}
