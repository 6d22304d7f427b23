package provision

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	EULAFile       = "eula.txt"
	PluginsDir     = "plugins"
	UnixScript     = "start.sh"
	WindowsScript  = "start.bat"
	eulaAcceptLine = "eula=true"
)

// ErrEULANotAccepted is returned when eula.txt is missing or does not accept the EULA
var ErrEULANotAccepted = errors.New("minecraft EULA has not been accepted")

// AcceptEULA writes eula.txt into dir with the EULA accepted
func AcceptEULA(dir string) error {
	path := filepath.Join(dir, EULAFile)
	if err := os.WriteFile(path, []byte(eulaAcceptLine+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// EULAAccepted reports whether eula.txt in dir contains eula=true
func EULAAccepted(dir string) (bool, error) {
	file, err := os.Open(filepath.Join(dir, EULAFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if ok && strings.TrimSpace(key) == "eula" {
			return strings.EqualFold(strings.TrimSpace(value), "true"), nil
		}
	}
	return false, scanner.Err()
}

// ScriptName returns the launch script file name used on goos
func ScriptName(goos string) string {
	if goos == "windows" {
		return WindowsScript
	}
	return UnixScript
}

// WriteStartScript writes the platform launch script for jar into dir and returns its path
func WriteStartScript(dir, jar string, javaArgs []string, goos string) (string, error) {
	args := append([]string{"java"}, javaArgs...)
	args = append(args, "-jar", jar, "nogui")
	command := strings.Join(args, " ")

	var content string
	var mode os.FileMode = 0644
	if goos == "windows" {
		content = "@echo off\r\n" + command + "\r\npause\r\n"
	} else {
		content = "#!/bin/sh\n" + command + "\n"
		mode = 0755
	}

	path := filepath.Join(dir, ScriptName(goos))
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return "", fmt.Errorf("failed to write start script: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(path, mode); err != nil {
		return "", fmt.Errorf("failed to chmod start script: %w", err)
	}
	return path, nil
}

// EnsurePluginsDir creates the plugins directory under dir
func EnsurePluginsDir(dir string) (string, error) {
	path := filepath.Join(dir, PluginsDir)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create plugins directory: %w", err)
	}
	return path, nil
}

// Prepare accepts the EULA, writes the launch script for this platform and creates
// the plugins directory. It runs after the server jar has been downloaded.
func Prepare(dir, jar string, javaArgs []string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("server directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("server directory %s is not a directory", dir)
	}

	if err := AcceptEULA(dir); err != nil {
		return err
	}
	if _, err := WriteStartScript(dir, jar, javaArgs, runtime.GOOS); err != nil {
		return err
	}
	if _, err := EnsurePluginsDir(dir); err != nil {
		return err
	}
	return nil
}
