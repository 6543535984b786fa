package transport

import (
	"encoding/json"
	"sync"
)

// FakeConn is a scripted Conn for tests: outbound frames are recorded,
// inbound frames are injected with the Deliver helpers.
type FakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error

	inbound   chan recvResult
	closed    chan struct{}
	closeOnce sync.Once
}

type recvResult struct {
	data []byte
	err  error
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		inbound: make(chan recvResult, 64),
		closed:  make(chan struct{}),
	}
}

func (f *FakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *FakeConn) Recv() ([]byte, error) {
	select {
	case r := <-f.inbound:
		return r.data, r.err
	case <-f.closed:
		return nil, errNormalClosure
	}
}

func (f *FakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// Deliver injects one raw inbound frame.
func (f *FakeConn) Deliver(frame []byte) {
	f.inbound <- recvResult{data: frame}
}

// DeliverTranscription injects a transcription frame. speaker may be nil.
func (f *FakeConn) DeliverTranscription(text string, isFinal bool, speaker *int, label string) {
	b, _ := json.Marshal(serverFrame{
		Type:         "transcription",
		Transcript:   text,
		IsFinal:      isFinal,
		Speaker:      speaker,
		SpeakerLabel: label,
	})
	f.Deliver(b)
}

// DeliverStopped injects a transcription_stopped frame.
func (f *FakeConn) DeliverStopped() {
	b, _ := json.Marshal(serverFrame{Type: "transcription_stopped"})
	f.Deliver(b)
}

// DeliverError injects a backend error frame.
func (f *FakeConn) DeliverError(message string) {
	b, _ := json.Marshal(serverFrame{Type: "error", Message: message})
	f.Deliver(b)
}

// FailRecv makes the next Recv return err, simulating an abnormal close.
func (f *FakeConn) FailRecv(err error) {
	f.inbound <- recvResult{err: err}
}

// SetSendErr makes subsequent Sends fail.
func (f *FakeConn) SetSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// SentFrames returns copies of all outbound frames so far.
func (f *FakeConn) SentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}
