package audio

import (
	"testing"
	"time"
)

func TestIsBluetooth(t *testing.T) {
	for _, tt := range []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Sony WH-1000XM4", true},
		{"Built-in Microphone", false},
		{"USB Audio Device", false},
		{"Jabra Elite 75t", true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBluetooth(tt.name); got != tt.want {
				t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestIsMonitor(t *testing.T) {
	for _, tt := range []struct {
		name string
		want bool
	}{
		{"alsa_output.pci-0000_00_1f.3.analog-stereo.monitor", true},
		{"Monitor of Built-in Audio", true},
		{"Built-in Microphone", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMonitor(tt.name); got != tt.want {
				t.Errorf("IsMonitor(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestDefaultSourcePrefersScreen(t *testing.T) {
	sources := []Source{
		{ID: "device:mic1", Name: "Mic"},
		{ID: "screen:0", Name: "Entire Screen"},
	}
	got, ok := DefaultSource(sources)
	if !ok || got.ID != "screen:0" {
		t.Errorf("DefaultSource = (%v, %v), want screen:0", got.ID, ok)
	}
}

func TestDefaultSourceFallback(t *testing.T) {
	sources := []Source{{ID: "device:mic1", Name: "Mic"}}
	got, ok := DefaultSource(sources)
	if !ok || got.ID != "device:mic1" {
		t.Errorf("DefaultSource = (%v, %v), want device:mic1", got.ID, ok)
	}

	if _, ok := DefaultSource(nil); ok {
		t.Error("DefaultSource(nil) reported ok")
	}
}

func TestStubSourcesHaveScreenDefault(t *testing.T) {
	got, ok := DefaultSource(StubSources())
	if !ok || got.ID != "screen:0" {
		t.Errorf("stub default = (%v, %v), want screen:0", got.ID, ok)
	}
}

func TestSourceDeviceID(t *testing.T) {
	s := Source{ID: "screen:alsa.monitor"}
	if got := s.DeviceID(); got != "alsa.monitor" {
		t.Errorf("DeviceID = %q, want alsa.monitor", got)
	}
}

func TestFakeCaptureDeliversPCM(t *testing.T) {
	pcm := make([]byte, 4*fakeFrameSize*fakeBytesPerFrame)
	ctx := NewFakePCMContext(pcm, 16000, false)

	cap, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	var got int
	cap.SetCallback(func(data []byte, frameCount uint32) {
		got += len(data)
	})
	if err := cap.Start(); err != nil {
		t.Fatal(err)
	}

	fake := cap.(*FakeCapture)
	select {
	case <-fake.AudioDone():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for canned audio")
	}
	cap.Stop()

	if got < len(pcm) {
		t.Errorf("delivered %d bytes, want at least %d", got, len(pcm))
	}
}
