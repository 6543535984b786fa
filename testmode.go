package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shaythuram/sally-again/audio"
	"github.com/shaythuram/sally-again/encoder"
	"github.com/shaythuram/sally-again/log"
	"github.com/shaythuram/sally-again/session"
	"github.com/shaythuram/sally-again/timeline"
)

// printSink reports session activity on stdout for scripted runs.
type printSink struct{}

func (printSink) SessionState(state session.State) {
	fmt.Printf("STATE %s\n", state)
}

func (printSink) ElapsedTick(int)                     {}
func (printSink) TimelineUpdated()                    {}
func (printSink) AudioLevel(timeline.Source, float64) {}

func (printSink) FeedStatus(source timeline.Source, transcribing bool, err error) {
	if err != nil {
		fmt.Printf("FEED %s error: %v\n", source, err)
		return
	}
	fmt.Printf("FEED %s transcribing=%v\n", source, transcribing)
}

// runTestMode drives a session from stdin commands, feeding both feeds
// from a WAV file instead of live devices. Commands: START, STOP, SLEEP
// <seconds>, TRANSCRIPT, QUIT.
func runTestMode(wavPath, backend string, diarization bool) {
	defer log.Close()

	fakeCtx, err := audio.NewFakeContext(wavPath, encoder.SampleRate, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		os.Exit(1)
	}

	ctrl := session.NewController(fakeCtx, printSink{})
	cfg := session.Config{
		BackendURL:    backend,
		Diarization:   diarization,
		CaptureSource: audio.StubSources()[0],
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "START":
			if err := ctrl.Start(cfg); err != nil {
				fmt.Printf("ERROR %v\n", err)
			}

		case cmd == "STOP":
			ctrl.Stop()

		case strings.HasPrefix(cmd, "SLEEP"):
			secs, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(cmd, "SLEEP")), 64)
			if err != nil {
				fmt.Printf("ERROR bad SLEEP argument\n")
				continue
			}
			time.Sleep(time.Duration(secs * float64(time.Second)))

		case cmd == "TRANSCRIPT":
			fmt.Println("--- TRANSCRIPT ---")
			fmt.Println(ctrl.Timeline().Transcript())
			fmt.Println("--- END ---")

		case cmd == "QUIT":
			ctrl.Stop()
			return

		case cmd == "":

		default:
			fmt.Printf("ERROR unknown command %q\n", cmd)
		}
	}
	ctrl.Stop()
}
