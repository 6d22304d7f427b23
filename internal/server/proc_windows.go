//go:build windows

package server

import (
	"errors"
	"os"
	"os/exec"
)

func setProcAttributes(cmd *exec.Cmd) {}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func exitSignaled(state *os.ProcessState) bool {
	return false
}
