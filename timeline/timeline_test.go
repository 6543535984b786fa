package timeline

import (
	"testing"
	"time"
)

// assertOneAccumulating checks the invariant: at most one accumulating
// message per source, and it must be the last entry for that source.
func assertOneAccumulating(t *testing.T, tl *Timeline) {
	t.Helper()
	msgs := tl.Messages()
	for _, src := range []Source{Microphone, System} {
		count := 0
		accIdx := -1
		lastIdx := -1
		for i, m := range msgs {
			if m.Source != src {
				continue
			}
			lastIdx = i
			if m.Accumulating {
				count++
				accIdx = i
			}
		}
		if count > 1 {
			t.Errorf("source %v: %d accumulating messages, want at most 1", src, count)
		}
		if count == 1 && accIdx != lastIdx {
			t.Errorf("source %v: accumulating message at %d is not the last entry (%d)", src, accIdx, lastIdx)
		}
	}
}

func TestDiarizedFinalsNeverMerge(t *testing.T) {
	tl := New()
	tl.Reset(true)

	tl.FeedSystemFragment(1, "Speaker 1", "first turn", true)
	tl.FeedSystemFragment(1, "Speaker 1", "second turn", true)

	msgs := tl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (same speaker must not merge)", len(msgs))
	}
	for i, m := range msgs {
		if !m.Final || m.Accumulating {
			t.Errorf("message %d: Final=%v Accumulating=%v, want final non-accumulating", i, m.Final, m.Accumulating)
		}
		if m.SpeakerID != 1 || m.SpeakerLabel != "Speaker 1" {
			t.Errorf("message %d: speaker %d %q, want 1 %q", i, m.SpeakerID, m.SpeakerLabel, "Speaker 1")
		}
	}
	if msgs[0].ID == msgs[1].ID {
		t.Error("messages share an id")
	}
}

func TestDiarizedDropsInterim(t *testing.T) {
	tl := New()
	tl.Reset(true)

	tl.FeedSystemFragment(1, "Speaker 1", "partial text", false)

	if n := tl.Len(); n != 0 {
		t.Errorf("got %d messages, want 0 (interim diarized fragments dropped)", n)
	}
}

func TestDiarizedDropsEmptyFinal(t *testing.T) {
	tl := New()
	tl.Reset(true)

	tl.FeedSystemFragment(1, "Speaker 1", "", true)
	tl.FeedSystemFragment(2, "Speaker 2", "   ", true)

	if n := tl.Len(); n != 0 {
		t.Errorf("got %d messages, want 0 (empty finals discarded)", n)
	}
}

func TestBurstConcatenation(t *testing.T) {
	tl := New()
	tl.Reset(false)

	tl.FeedSystemFragment(0, "", "hello", false)
	tl.FeedSystemFragment(0, "", "world", true)

	msgs := tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Text != "hello world" {
		t.Errorf("Text = %q, want %q", m.Text, "hello world")
	}
	if !m.Accumulating || m.Final {
		t.Errorf("Accumulating=%v Final=%v, want still accumulating", m.Accumulating, m.Final)
	}
	if m.SpeakerID != 0 || m.SpeakerLabel != SystemSpeakerLabel {
		t.Errorf("speaker = %d %q, want 0 %q", m.SpeakerID, m.SpeakerLabel, SystemSpeakerLabel)
	}
	assertOneAccumulating(t, tl)
}

func TestBurstFinalizeInPlace(t *testing.T) {
	tl := New()
	tl.Reset(false)

	tl.FeedSystemFragment(0, "", "hello world", false)
	if !tl.FinalizeAccumulating(System) {
		t.Fatal("FinalizeAccumulating returned false with an open burst")
	}

	msgs := tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if !m.Final || m.Accumulating {
		t.Errorf("Final=%v Accumulating=%v, want finalized", m.Final, m.Accumulating)
	}
	if m.Text != "hello world" {
		t.Errorf("Text changed on finalize: %q", m.Text)
	}

	// Nothing left open: a second finalize is a no-op.
	if tl.FinalizeAccumulating(System) {
		t.Error("second FinalizeAccumulating returned true")
	}
}

func TestBurstReopensAfterFinalize(t *testing.T) {
	tl := New()
	tl.Reset(false)

	tl.FeedSystemFragment(0, "", "first burst", false)
	tl.FinalizeAccumulating(System)
	tl.FeedSystemFragment(0, "", "second burst", false)

	msgs := tl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Text != "first burst" || msgs[1].Text != "second burst" {
		t.Errorf("texts = %q, %q", msgs[0].Text, msgs[1].Text)
	}
	assertOneAccumulating(t, tl)
}

func TestBurstInterruptedByMicMessage(t *testing.T) {
	tl := New()
	tl.Reset(false)

	tl.FeedSystemFragment(0, "", "system talk", false)
	tl.FeedMicFragment("mic talk", true)
	tl.FeedSystemFragment(0, "", "more system", false)

	// The old burst is closed before a new one opens.
	assertOneAccumulating(t, tl)
	msgs := tl.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Accumulating {
		t.Error("first burst still accumulating after a newer system message")
	}
	if !msgs[2].Accumulating {
		t.Error("new burst should be accumulating")
	}
}

func TestMicReplaceSemantics(t *testing.T) {
	tl := New()
	tl.Reset(false)

	tl.FeedMicFragment("he", false)
	tl.FeedMicFragment("hello", false)
	tl.FeedMicFragment("hello there", true)

	msgs := tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Text != "hello there" {
		t.Errorf("Text = %q, want %q", m.Text, "hello there")
	}
	if !m.Final || m.Accumulating {
		t.Errorf("Final=%v Accumulating=%v, want finalized", m.Final, m.Accumulating)
	}
	if m.Source != Microphone {
		t.Errorf("Source = %v, want Microphone", m.Source)
	}
}

func TestMicFinalWithoutOpenMessage(t *testing.T) {
	tl := New()
	tl.Reset(false)

	tl.FeedMicFragment("complete utterance", true)

	msgs := tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !msgs[0].Final || msgs[0].Accumulating {
		t.Error("message should be created already final")
	}
}

func TestMicEmptyInterimKept(t *testing.T) {
	tl := New()
	tl.Reset(false)

	tl.FeedMicFragment("", false)

	msgs := tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (empty interim is a valid state)", len(msgs))
	}
	m := msgs[0]
	if m.Text != "" {
		t.Errorf("Text = %q, want empty", m.Text)
	}
	if !m.Accumulating || m.Final {
		t.Errorf("Accumulating=%v Final=%v, want open", m.Accumulating, m.Final)
	}

	// The same message absorbs the next update.
	tl.FeedMicFragment("now speaking", false)
	if n := tl.Len(); n != 1 {
		t.Errorf("got %d messages after update, want 1", n)
	}
}

func TestInterleavedFeedsKeepInvariant(t *testing.T) {
	tl := New()
	tl.Reset(false)

	tl.FeedMicFragment("a", false)
	tl.FeedSystemFragment(0, "", "one", false)
	tl.FeedMicFragment("ab", false)
	tl.FeedSystemFragment(0, "", "two", false)
	tl.FeedMicFragment("abc", true)
	tl.FeedSystemFragment(0, "", "three", false)

	assertOneAccumulating(t, tl)
}

func TestResetClears(t *testing.T) {
	tl := New()
	tl.Reset(false)
	tl.FeedMicFragment("something", true)
	tl.FeedSystemFragment(0, "", "else", false)

	tl.Reset(true)
	if n := tl.Len(); n != 0 {
		t.Errorf("got %d messages after reset, want 0", n)
	}
}

func TestTimestampsRefreshOnUpdate(t *testing.T) {
	tl := New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	tl.now = func() time.Time { return current }
	tl.Reset(false)

	tl.FeedMicFragment("hi", false)
	current = base.Add(2 * time.Second)
	tl.FeedMicFragment("hi there", false)

	m := tl.Messages()[0]
	if !m.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", m.CreatedAt, base)
	}
	if !m.LastUpdatedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("LastUpdatedAt = %v, want %v", m.LastUpdatedAt, base.Add(2*time.Second))
	}
}

func TestTranscriptRendering(t *testing.T) {
	tl := New()
	tl.Reset(true)
	tl.FeedSystemFragment(1, "Speaker 1", "hello from system", true)
	tl.Reset(false)
	tl.FeedMicFragment("hello from mic", true)
	tl.FeedSystemFragment(0, "", "burst text", false)

	got := tl.Transcript()
	want := "You: hello from mic\nSystem Audio: burst text\n"
	if got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}
}
