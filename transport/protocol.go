package transport

import "encoding/json"

// Wire frames exchanged with the transcription backend. All frames are JSON
// text messages.

type startFrame struct {
	Type        string `json:"type"`
	Diarization bool   `json:"diarization,omitempty"`
}

type audioFrame struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64 PCM16 mono
}

type stopFrame struct {
	Type string `json:"type"`
}

type serverFrame struct {
	Type         string `json:"type"`
	Transcript   string `json:"transcript"`
	IsFinal      bool   `json:"is_final"`
	Speaker      *int   `json:"speaker,omitempty"`
	SpeakerLabel string `json:"speaker_label,omitempty"`
	Message      string `json:"message,omitempty"` // error frames only
}

func marshalStart(diarization bool) []byte {
	b, _ := json.Marshal(startFrame{Type: "start_transcription", Diarization: diarization})
	return b
}

func marshalAudio(base64PCM string) []byte {
	b, _ := json.Marshal(audioFrame{Type: "audio_data", Data: base64PCM})
	return b
}

func marshalStop() []byte {
	b, _ := json.Marshal(stopFrame{Type: "stop_transcription"})
	return b
}
