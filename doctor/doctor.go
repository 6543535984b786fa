package doctor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"

	"github.com/shaythuram/sally-again/audio"
	"github.com/shaythuram/sally-again/encoder"
	"github.com/shaythuram/sally-again/transport"
)

// Run executes interactive diagnostic checks against the given backend
// URL and returns an exit code (0=all pass, 1=any fail).
func Run(backend string) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("sally doctor - interactive system diagnostics")
	fmt.Println("=============================================")

	allPass := true

	if !checkAudio() {
		allPass = false
	}
	if !checkBackend(backend) {
		allPass = false
	}
	if allPass && !checkLiveTranscription(backend) {
		allPass = false
	}
	if !checkClipboard() {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
	} else {
		fmt.Println("Some checks failed. See details above.")
	}

	if allPass {
		return 0
	}
	return 1
}

func checkAudio() bool {
	fmt.Println()
	fmt.Println("[1/4] Audio devices")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no microphone devices found")
		return false
	}
	for _, d := range devices {
		fmt.Printf("  mic: %s\n", d.Name)
	}

	sources, err := audio.ListSources(ctx)
	if err != nil {
		fmt.Printf("  FAIL: cannot list capture sources: %v\n", err)
		return false
	}
	screens := 0
	for _, s := range sources {
		fmt.Printf("  source: %s\n", s.Name)
		if strings.HasPrefix(s.ID, "screen:") {
			screens++
		}
	}
	if screens == 0 {
		fmt.Println("  FAIL: no system audio source found (no monitor device?)")
		return false
	}

	fmt.Println("  PASS: audio devices enumerated")
	return true
}

func checkBackend(backend string) bool {
	fmt.Println()
	fmt.Printf("[2/4] Backend connectivity (%s)\n", backend)

	dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.DialFunc(dialCtx, backend)()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	conn.Close()

	fmt.Println("  PASS: backend reachable")
	return true
}

func checkLiveTranscription(backend string) bool {
	fmt.Println()
	fmt.Println("[3/4] Microphone round trip")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Press Enter and speak for 5 seconds...")
	reader.ReadString('\n')

	ch := transport.Open("doctor", transport.DialFunc(context.Background(), backend), false)

	var lastText string
	var textMu sync.Mutex
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range ch.Events() {
			if ev.Kind == transport.Fragment {
				textMu.Lock()
				lastText = ev.Transcript
				textMu.Unlock()
			}
		}
	}()

	if err := recordInto(ctx, ch); err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		ch.Stop()
		return false
	}

	ch.Stop()
	<-drained

	textMu.Lock()
	text := strings.TrimSpace(lastText)
	textMu.Unlock()
	if text == "" {
		text = "(nothing transcribed)"
	}
	fmt.Printf("\n  Transcribed text: %s\n\n", text)

	confirmReader := bufio.NewReader(os.Stdin)
	fmt.Print("Is this correct? [y/n]: ")
	confirm, _ := confirmReader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))

	if confirm == "y" || confirm == "yes" {
		fmt.Println("  PASS: transcription verified by user")
		return true
	}
	fmt.Println("  FAIL: transcription not confirmed")
	return false
}

func recordInto(ctx audio.Context, ch *transport.Channel) error {
	capture, err := ctx.NewCapture(nil, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return err
	}
	defer capture.Close()

	capture.SetCallback(func(data []byte, frameCount uint32) {
		if len(data) == 0 {
			return
		}
		pcm := make([]byte, len(data))
		copy(pcm, data)
		ch.SendAudio(pcm)
	})
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		return err
	}

	fmt.Print("  Recording")
	done := make(chan struct{})
	ticker := time.NewTicker(500 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	time.Sleep(5 * time.Second)
	close(done)
	capture.Stop()
	capture.ClearCallback()
	fmt.Println(" done")
	return nil
}

func checkClipboard() bool {
	fmt.Println()
	fmt.Println("[4/4] Clipboard copy")

	testStr := fmt.Sprintf("sally-doctor-%d", time.Now().UnixNano())

	type cbResult struct {
		readback string
		err      error
		phase    string
	}
	ch := make(chan cbResult, 1)
	go func() {
		if err := clipboard.WriteAll(testStr); err != nil {
			ch <- cbResult{err: err, phase: "write"}
			return
		}
		got, err := clipboard.ReadAll()
		if err != nil {
			ch <- cbResult{err: err, phase: "read"}
			return
		}
		ch <- cbResult{readback: got}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			fmt.Printf("  FAIL: clipboard %s failed: %v\n", res.phase, res.err)
			return false
		}
		if res.readback != testStr {
			fmt.Printf("  FAIL: clipboard mismatch: wrote %q, got %q\n", testStr, res.readback)
			return false
		}
		fmt.Println("  PASS: clipboard write/read verified")
		return true
	case <-time.After(3 * time.Second):
		fmt.Println("  FAIL: clipboard timed out (clipboard tool hung - compositor not accessible?)")
		return false
	}
}
