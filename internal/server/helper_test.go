package server

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

const helperEnv = "PAPERMC_TEST_HELPER"

// TestMain lets the test binary act as a fake game server when helperEnv is set
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

func runHelper(mode string) int {
	switch mode {
	case "echo":
		fmt.Println("ready")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Println("echo:" + line)
			if line == "stop" {
				return 0
			}
			if line == "save-all" {
				fmt.Println("Saved the game")
			}
		}
		return 0
	case "paper":
		fmt.Println("[Server thread/INFO]: Starting minecraft server version 1.21.1")
		fmt.Println(`[Server thread/INFO]: Done (0.412s)! For help, type "help"`)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "stop":
				fmt.Println("[Server thread/INFO]: Stopping the server")
				return 0
			case line == "save-all" || line == "save-all flush":
				fmt.Println("[Server thread/INFO]: Saving the game (this may take a moment!)")
				fmt.Println("[Server thread/INFO]: Saved the game")
			case line == "save-off":
				fmt.Println("[Server thread/INFO]: Automatic saving is now disabled")
			case line == "save-on":
				fmt.Println("[Server thread/INFO]: Automatic saving is now enabled")
			case strings.HasPrefix(line, "say "):
				fmt.Println("[Server thread/INFO]: [Server] " + strings.TrimPrefix(line, "say "))
			default:
				fmt.Println("[Server thread/INFO]: Unknown command: " + line)
			}
		}
		return 0
	case "slow-start":
		fmt.Println("[Server thread/INFO]: Loading libraries, please wait...")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if scanner.Text() == "stop" {
				return 0
			}
		}
		return 0
	case "ignore-stop":
		fmt.Println("ready")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			fmt.Println("ignored:" + scanner.Text())
		}
		// Keep running even after stdin closes
		time.Sleep(time.Hour)
		return 0
	case "close-stdin":
		// Stay alive with nothing reading the input pipe
		os.Stdin.Close()
		fmt.Println("ready")
		time.Sleep(time.Hour)
		return 0
	case "lines":
		os.Stdout.WriteString("one\ntwo\r\n\nthree")
		return 0
	case "mixed":
		fmt.Fprintln(os.Stdout, "out-1")
		fmt.Fprintln(os.Stderr, "err-1")
		fmt.Fprintln(os.Stdout, "out-2")
		return 0
	case "many":
		w := bufio.NewWriter(os.Stdout)
		for i := 0; i < 2000; i++ {
			fmt.Fprintf(w, "line-%d\n", i)
		}
		w.Flush()
		return 0
	case "crash":
		fmt.Println("boom")
		return 3
	default:
		fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", mode)
		return 2
	}
}

// helperSupervisor returns a supervisor whose children run the given helper mode
func helperSupervisor(t *testing.T, mode string, opts ...Option) (*Supervisor, []string) {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("failed to resolve test binary: %v", err)
	}
	opts = append([]Option{WithEnv([]string{helperEnv + "=" + mode}), WithKillGrace(2 * time.Second)}, opts...)
	return NewSupervisor(opts...), []string{exe, "-test.run=^$"}
}

func startHelper(t *testing.T, mode string, opts ...Option) (*Supervisor, *Handle, *Subscription) {
	t.Helper()
	sup, cmdLine := helperSupervisor(t, mode, opts...)
	sub := sup.Subscribe()
	handle, err := sup.Start(t.TempDir(), cmdLine)
	if err != nil {
		sub.Close()
		t.Fatalf("failed to start helper %s: %v", mode, err)
	}
	t.Cleanup(func() {
		sub.Close()
		sup.Stop(time.Second)
	})
	return sup, handle, sub
}

// collectLines reads line events until the instance exits
func collectLines(t *testing.T, sub *Subscription, timeout time.Duration) []string {
	t.Helper()
	deadline := time.After(timeout)
	var lines []string
	for {
		select {
		case ev := <-sub.Events():
			switch ev.Kind {
			case EventLine:
				lines = append(lines, ev.Line)
			case EventExit:
				return lines
			}
		case <-deadline:
			t.Fatalf("timed out collecting output, got %d lines", len(lines))
		}
	}
}

func waitForLine(t *testing.T, sub *Subscription, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == EventLine && ev.Line == want {
				return
			}
			if ev.Kind == EventExit {
				t.Fatalf("process exited before %q was printed", want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func waitForState(t *testing.T, sup *Supervisor, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sup.CurrentState() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected state %s, still %s", want, sup.CurrentState())
}

func hasPrefixLine(lines []string, prefix string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
