package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shaythuram/sally-again/audio"
	"github.com/shaythuram/sally-again/doctor"
	"github.com/shaythuram/sally-again/log"
	"github.com/shaythuram/sally-again/session"
	"github.com/shaythuram/sally-again/shutdown"
)

var version = "dev"

const defaultBackend = "ws://localhost:8000/ws"

var activeController *session.Controller

var shutdownOnce sync.Once

func gracefulShutdown() {
	shutdownOnce.Do(func() {
		if activeController != nil {
			activeController.Stop()
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(0)
	})
}

func backendDefault() string {
	if url := os.Getenv("SALLY_BACKEND_URL"); url != "" {
		return url
	}
	return defaultBackend
}

func main() {
	run()
}

func run() {
	backendFlag := flag.String("backend", backendDefault(), "Transcription backend websocket URL")
	diarizationFlag := flag.Bool("diarization", true, "Request speaker diarization on the system feed")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	sourceFlag := flag.String("source", "", "Capture source name (default: first screen source)")
	listFlag := flag.Bool("sources", false, "List capture sources and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven, feeds a WAV file)")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	flag.Parse()

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if *versionFlag {
		fmt.Printf("sally %s\n", version)
		os.Exit(0)
	}

	if *doctorFlag {
		os.Exit(doctor.Run(*backendFlag))
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: sally -test <wav-file>")
			os.Exit(1)
		}
		runTestMode(args[0], *backendFlag, *diarizationFlag)
		return
	}

	ctx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	sources, err := audio.ListSources(ctx)
	if err != nil {
		log.Warnf("source enumeration failed: %v", err)
		fmt.Printf("Warning: could not enumerate capture sources: %v\n", err)
		sources = audio.StubSources()
	}

	if *listFlag {
		for _, s := range sources {
			fmt.Printf("%-14s %s\n", s.ID, s.Name)
		}
		os.Exit(0)
	}

	captureSource, ok := resolveSource(sources, *sourceFlag)
	if !ok {
		if *sourceFlag != "" {
			fmt.Printf("Error: capture source %q not found (try -sources)\n", *sourceFlag)
		} else {
			fmt.Println("Error: no capture source available")
		}
		os.Exit(1)
	}

	var micDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		if devices, err := ctx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == *deviceFlag {
					micDevice = &devices[i]
					break
				}
			}
		}
		if micDevice == nil {
			fmt.Printf("Warning: device %q not found, using system default\n", *deviceFlag)
		}
	} else if *setupFlag {
		micDevice, err = audio.SelectDevice(ctx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			micDevice = nil
		}
	}

	ctrl := session.NewController(ctx, tuiSink{})
	activeController = ctrl

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(ctrl, *backendFlag, captureSource, micDevice, *diarizationFlag)
	p := tuiProgram
	tuiMu.Unlock()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown()
	}()

	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	gracefulShutdown()
}

// resolveSource picks the named source, or the first screen source when
// no name is given.
func resolveSource(sources []audio.Source, name string) (audio.Source, bool) {
	if name == "" {
		return audio.DefaultSource(sources)
	}
	for _, s := range sources {
		if s.Name == name || s.ID == name {
			return s, true
		}
	}
	return audio.Source{}, false
}
