package timeline

import "testing"

func TestColorAssignmentOrder(t *testing.T) {
	r := NewSpeakerRegistry()

	first := r.ColorFor(7)
	second := r.ColorFor(3)

	if first != speakerPalette[0] {
		t.Errorf("first speaker got %v, want %v", first, speakerPalette[0])
	}
	if second != speakerPalette[1] {
		t.Errorf("second speaker got %v, want %v", second, speakerPalette[1])
	}
}

func TestColorStablePerSpeaker(t *testing.T) {
	r := NewSpeakerRegistry()

	a := r.ColorFor(1)
	r.ColorFor(2)
	if got := r.ColorFor(1); got != a {
		t.Errorf("speaker 1 color changed: %v then %v", a, got)
	}
	if r.Size() != 2 {
		t.Errorf("Size = %d, want 2", r.Size())
	}
}

func TestPaletteCycles(t *testing.T) {
	r := NewSpeakerRegistry()

	for id := 0; id < len(speakerPalette); id++ {
		r.ColorFor(id)
	}
	wrapped := r.ColorFor(100)
	if wrapped != speakerPalette[0] {
		t.Errorf("speaker beyond palette got %v, want cycle back to %v", wrapped, speakerPalette[0])
	}
}

func TestRegistryReset(t *testing.T) {
	r := NewSpeakerRegistry()
	r.ColorFor(5)
	r.ColorFor(6)

	r.Reset()
	if r.Size() != 0 {
		t.Errorf("Size after reset = %d, want 0", r.Size())
	}
	if got := r.ColorFor(6); got != speakerPalette[0] {
		t.Errorf("first speaker after reset got %v, want %v", got, speakerPalette[0])
	}
}
