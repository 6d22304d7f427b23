package server

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSupervisorEchoAndStopCommand(t *testing.T) {
	sup, handle, sub := startHelper(t, "echo")

	waitForLine(t, sub, "ready", 5*time.Second)
	if sup.CurrentState() != StateRunning {
		t.Fatalf("expected running, got %s", sup.CurrentState())
	}

	if err := sup.SendCommand("hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	waitForLine(t, sub, "echo:hello", 5*time.Second)

	if err := sup.SendCommand("stop"); err != nil {
		t.Fatalf("send stop failed: %v", err)
	}

	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not exit after stop command")
	}
	if sup.CurrentState() != StateStopped {
		t.Fatalf("expected stopped, got %s", sup.CurrentState())
	}

	exit, ok := handle.Exit()
	if !ok {
		t.Fatalf("expected exit info after done")
	}
	if exit.ExitCode != 0 || exit.Forced {
		t.Fatalf("unexpected exit info: %+v", exit)
	}
}

func TestSupervisorStartTwiceReturnsAlreadyRunning(t *testing.T) {
	sup, handle, sub := startHelper(t, "echo")
	waitForLine(t, sub, "ready", 5*time.Second)

	_, cmdLine := helperSupervisor(t, "echo")
	if _, err := sup.Start(t.TempDir(), cmdLine); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if sup.CurrentState() != StateRunning {
		t.Fatalf("first instance should still be running, got %s", sup.CurrentState())
	}
	if err := sup.SendCommand("still-there"); err != nil {
		t.Fatalf("first instance should accept commands: %v", err)
	}
	waitForLine(t, sub, "echo:still-there", 5*time.Second)

	if _, done := handle.Exit(); done {
		t.Fatalf("first instance should not have exited")
	}
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	sup, cmdLine := helperSupervisor(t, "echo")

	exit, err := sup.Stop(time.Second)
	if err != nil {
		t.Fatalf("stop on idle supervisor failed: %v", err)
	}
	if exit.WasRunning {
		t.Fatalf("expected was-not-running indicator, got %+v", exit)
	}

	sub := sup.Subscribe()
	defer sub.Close()
	if _, err := sup.Start(t.TempDir(), cmdLine); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitForLine(t, sub, "ready", 5*time.Second)

	first, err := sup.Stop(5 * time.Second)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !first.WasRunning || first.Forced {
		t.Fatalf("expected graceful stop, got %+v", first)
	}

	for i := 0; i < 3; i++ {
		again, err := sup.Stop(time.Second)
		if err != nil {
			t.Fatalf("repeated stop failed: %v", err)
		}
		if again.InstanceID != first.InstanceID {
			t.Fatalf("expected last exit info, got %+v", again)
		}
		if again.WasRunning {
			t.Fatalf("stop on a stopped supervisor must report was-not-running, got %+v", again)
		}
	}
	if sup.CurrentState() != StateStopped {
		t.Fatalf("expected stopped, got %s", sup.CurrentState())
	}
}

func TestSupervisorConcurrentStopCallsShareOutcome(t *testing.T) {
	sup, _, sub := startHelper(t, "echo")
	waitForLine(t, sub, "ready", 5*time.Second)

	var wg sync.WaitGroup
	results := make([]ExitInfo, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exit, err := sup.Stop(5 * time.Second)
			if err != nil {
				t.Errorf("stop %d failed: %v", i, err)
			}
			results[i] = exit
		}(i)
	}
	wg.Wait()

	for i, exit := range results {
		if exit.InstanceID != results[0].InstanceID {
			t.Fatalf("stop %d saw a different instance: %+v", i, exit)
		}
	}
}

func TestSupervisorStopForcesKillAfterTimeout(t *testing.T) {
	sup, _, sub := startHelper(t, "ignore-stop")
	waitForLine(t, sub, "ready", 5*time.Second)

	start := time.Now()
	exit, err := sup.Stop(300 * time.Millisecond)
	if err != nil {
		t.Fatalf("stop should not fail on timeout: %v", err)
	}
	if !exit.Forced {
		t.Fatalf("expected forced stop, got %+v", exit)
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Fatalf("stop returned before the grace period elapsed")
	}
	if sup.CurrentState() != StateStopped {
		t.Fatalf("expected stopped, got %s", sup.CurrentState())
	}
}

func TestSupervisorStopTransitionsThroughStopping(t *testing.T) {
	sup, _, sub := startHelper(t, "ignore-stop")
	waitForLine(t, sub, "ready", 5*time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Stop(2 * time.Second)
	}()

	var states []State
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == EventState {
				states = append(states, ev.State)
			}
			if ev.Kind == EventExit {
				<-done
				if len(states) != 2 || states[0] != StateStopping || states[1] != StateStopped {
					t.Fatalf("unexpected transitions: %v", states)
				}
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for exit, transitions %v", states)
		}
	}
}

func TestSupervisorDeliversEveryLineInOrder(t *testing.T) {
	_, _, sub := startHelper(t, "lines")

	lines := collectLines(t, sub, 5*time.Second)
	want := []string{"one", "two", "", "three"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %q, got %q", want, lines)
	}
}

func TestSupervisorDeliversLargeOutputWithoutLoss(t *testing.T) {
	_, _, sub := startHelper(t, "many")

	lines := collectLines(t, sub, 10*time.Second)
	if len(lines) != 2000 {
		t.Fatalf("expected 2000 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if line != fmt.Sprintf("line-%d", i) {
			t.Fatalf("line %d out of order: %q", i, line)
		}
	}
}

func TestSupervisorMergesStdoutAndStderr(t *testing.T) {
	_, _, sub := startHelper(t, "mixed")

	lines := collectLines(t, sub, 5*time.Second)
	want := "out-1|err-1|out-2"
	if strings.Join(lines, "|") != want {
		t.Fatalf("expected %s, got %q", want, lines)
	}
}

func TestSupervisorConcurrentCommandsDoNotInterleave(t *testing.T) {
	sup, _, sub := startHelper(t, "echo")
	waitForLine(t, sub, "ready", 5*time.Second)

	const callers = 50
	payload := strings.Repeat("x", 512)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := sup.SendCommand(fmt.Sprintf("cmd-%d-%s", i, payload)); err != nil {
				t.Errorf("send %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	timeout := time.After(10 * time.Second)
	for len(seen) < callers {
		select {
		case ev := <-sub.Events():
			if ev.Kind != EventLine {
				continue
			}
			if !strings.HasPrefix(ev.Line, "echo:cmd-") {
				t.Fatalf("unexpected line: %q", ev.Line)
			}
			if !strings.HasSuffix(ev.Line, "-"+payload) {
				t.Fatalf("command was split or interleaved: %q", ev.Line)
			}
			seen[ev.Line]++
		case <-timeout:
			t.Fatalf("only %d of %d commands echoed", len(seen), callers)
		}
	}

	for line, count := range seen {
		if count != 1 {
			t.Fatalf("command %q echoed %d times", line[:12], count)
		}
	}
}

func TestSupervisorSelfExitAllowsRestart(t *testing.T) {
	sup, handle, sub := startHelper(t, "crash")

	lines := collectLines(t, sub, 5*time.Second)
	if !hasPrefixLine(lines, "boom") {
		t.Fatalf("expected crash output, got %q", lines)
	}
	<-handle.Done()
	waitForState(t, sup, StateStopped, time.Second)

	exit, ok := sup.LastExit()
	if !ok || exit.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %+v", exit)
	}

	_, cmdLine := helperSupervisor(t, "crash")
	second, err := sup.Start(t.TempDir(), cmdLine)
	if err != nil {
		t.Fatalf("restart after self-exit failed: %v", err)
	}
	<-second.Done()
}

func TestSupervisorStartMissingExecutable(t *testing.T) {
	sup := NewSupervisor()
	_, err := sup.Start(t.TempDir(), []string{filepath.Join(t.TempDir(), "does-not-exist")})
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) || spawnErr.Cause == nil {
		t.Fatalf("expected SpawnError with cause, got %v", err)
	}
	if sup.CurrentState() != StateStopped {
		t.Fatalf("expected stopped, got %s", sup.CurrentState())
	}
}

func TestSupervisorStartMissingWorkingDirectory(t *testing.T) {
	sup, cmdLine := helperSupervisor(t, "echo")
	_, err := sup.Start(filepath.Join(t.TempDir(), "missing"), cmdLine)
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
	if sup.CurrentState() != StateStopped {
		t.Fatalf("expected stopped, got %s", sup.CurrentState())
	}
}

func TestSupervisorSendCommandWhileStopped(t *testing.T) {
	sup := NewSupervisor()
	if err := sup.SendCommand("save-all"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := sup.SendAndAwaitAck("save-all", func(string) bool { return true }, time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning from ack, got %v", err)
	}
}

func TestSupervisorSendAndAwaitAck(t *testing.T) {
	sup, _, sub := startHelper(t, "echo")
	waitForLine(t, sub, "ready", 5*time.Second)

	err := sup.SendAndAwaitAck("save-all", func(line string) bool {
		return strings.Contains(line, "Saved the game")
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("expected acknowledgement, got %v", err)
	}

	err = sup.SendAndAwaitAck("ping", func(line string) bool {
		return line == "pong"
	}, 200*time.Millisecond)
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("expected ErrAckTimeout, got %v", err)
	}
	if sup.CurrentState() != StateRunning {
		t.Fatalf("ack timeout must not change state, got %s", sup.CurrentState())
	}
}

func TestSupervisorAwaitAckReportsExit(t *testing.T) {
	sup, _, sub := startHelper(t, "echo")
	waitForLine(t, sub, "ready", 5*time.Second)

	err := sup.SendAndAwaitAck("stop", func(line string) bool {
		return line == "never"
	}, 5*time.Second)
	if !errors.Is(err, ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
}

func TestSupervisorRepeatedCycles(t *testing.T) {
	sup, cmdLine := helperSupervisor(t, "echo")
	dir := t.TempDir()

	for i := 0; i < 5; i++ {
		sub := sup.Subscribe()
		handle, err := sup.Start(dir, cmdLine)
		if err != nil {
			sub.Close()
			t.Fatalf("cycle %d start failed: %v", i, err)
		}
		waitForLine(t, sub, "ready", 5*time.Second)
		exit, err := sup.Stop(5 * time.Second)
		sub.Close()
		if err != nil {
			t.Fatalf("cycle %d stop failed: %v", i, err)
		}
		if exit.InstanceID != handle.ID {
			t.Fatalf("cycle %d stopped the wrong instance", i)
		}
	}
}

func TestSupervisorRejectsMultiLineCommand(t *testing.T) {
	sup, _, sub := startHelper(t, "echo")
	waitForLine(t, sub, "ready", 5*time.Second)

	if err := sup.SendCommand("say hi\nstop"); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
	if sup.CurrentState() != StateRunning {
		t.Fatalf("a rejected command must not stop the server, got %s", sup.CurrentState())
	}

	if err := sup.SendCommand("after"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	waitForLine(t, sub, "echo:after", 5*time.Second)
}

func TestSupervisorStopWithDetachedChildHoldingOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process sessions are unix only")
	}
	for _, tool := range []string{"sh", "setsid", "sleep"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available: %v", tool, err)
		}
	}

	sup := NewSupervisor(WithKillGrace(300 * time.Millisecond))
	sub := sup.Subscribe()
	defer sub.Close()

	// The setsid child escapes the process group kill and keeps stdout open
	if _, err := sup.Start(t.TempDir(), []string{"sh", "-c", "setsid sleep 3 & echo ready; sleep 30"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitForLine(t, sub, "ready", 5*time.Second)

	start := time.Now()
	exit, err := sup.Stop(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("stop must succeed once the process is killed: %v", err)
	}
	if !exit.Forced || !exit.WasRunning {
		t.Fatalf("expected a forced stop, got %+v", exit)
	}
	if sup.CurrentState() != StateStopped {
		t.Fatalf("expected stopped, got %s", sup.CurrentState())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("stop took %v, output drain should be bounded by the kill grace", elapsed)
	}
}

func TestSupervisorBrokenPipeStopsAndAllowsRestart(t *testing.T) {
	sup, cmdLine := helperSupervisor(t, "close-stdin", WithKillGrace(500*time.Millisecond))
	sub := sup.Subscribe()
	defer sub.Close()

	handle, err := sup.Start(t.TempDir(), cmdLine)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitForLine(t, sub, "ready", 5*time.Second)

	err = sup.SendCommand("list")
	if !errors.Is(err, ErrBrokenPipe) {
		t.Fatalf("expected ErrBrokenPipe, got %v", err)
	}
	var pipeErr *BrokenPipeError
	if !errors.As(err, &pipeErr) || pipeErr.Cause == nil {
		t.Fatalf("expected BrokenPipeError with cause, got %v", err)
	}
	if sup.CurrentState() != StateStopped {
		t.Fatalf("expected stopped after broken pipe, got %s", sup.CurrentState())
	}
	if _, done := handle.Exit(); !done {
		t.Fatalf("instance should be torn down when SendCommand returns")
	}

	second, err := sup.Start(t.TempDir(), cmdLine)
	if err != nil {
		t.Fatalf("restart after broken pipe failed: %v", err)
	}
	if second.ID == handle.ID {
		t.Fatalf("restart must create a new instance")
	}
	waitForLine(t, sub, "ready", 5*time.Second)
	if _, err := sup.Stop(200 * time.Millisecond); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestSupervisorOutputFailureStopsProcess(t *testing.T) {
	sup, handle, sub := startHelper(t, "ignore-stop")
	waitForLine(t, sub, "ready", 5*time.Second)

	sup.mu.Lock()
	inst := sup.current
	sup.mu.Unlock()
	// Closing the read end behind the pump's back fails the next read
	inst.output.Close()

	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process was not stopped after the output stream failed")
	}

	exit, ok := handle.Exit()
	if !ok {
		t.Fatalf("expected exit info after done")
	}
	if !strings.Contains(exit.Err, ErrIOFailure.Error()) {
		t.Fatalf("expected output failure in exit info, got %+v", exit)
	}
	if sup.CurrentState() != StateStopped {
		t.Fatalf("expected stopped, got %s", sup.CurrentState())
	}
	if err := sup.SendCommand("list"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after teardown, got %v", err)
	}
}
