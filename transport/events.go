package transport

// EventKind identifies what a channel event carries.
type EventKind int

const (
	// Connected fires once when the websocket is open and the start frame
	// has been sent.
	Connected EventKind = iota
	// Fragment carries one transcript update from the backend.
	Fragment
	// Stopped is the backend's acknowledgment of stop_transcription.
	Stopped
	// BackendError carries an explicit error frame from the backend.
	BackendError
	// Closed is the last event on the channel; Err is nil on a clean close
	// (code 1000) and non-nil otherwise.
	Closed
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Fragment:
		return "fragment"
	case Stopped:
		return "stopped"
	case BackendError:
		return "backend_error"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Event is one typed inbound event. Fragments for a single channel are
// delivered in backend order.
type Event struct {
	Kind         EventKind
	Transcript   string
	IsFinal      bool
	Speaker      int
	SpeakerLabel string
	HasSpeaker   bool
	Err          error
}
