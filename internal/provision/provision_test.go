package provision

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestEULA(t *testing.T) {
	dir := t.TempDir()

	accepted, err := EULAAccepted(dir)
	if err != nil || accepted {
		t.Fatalf("expected missing eula to be unaccepted, got %v %v", accepted, err)
	}

	os.WriteFile(filepath.Join(dir, EULAFile), []byte("#By changing the setting below to TRUE\neula=false\n"), 0644)
	if accepted, _ := EULAAccepted(dir); accepted {
		t.Fatalf("eula=false must not count as accepted")
	}

	if err := AcceptEULA(dir); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if accepted, err := EULAAccepted(dir); err != nil || !accepted {
		t.Fatalf("expected accepted eula, got %v %v", accepted, err)
	}
}

func TestWriteStartScriptUnix(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteStartScript(dir, "paper.jar", []string{"-Xmx2G"}, "linux")
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if filepath.Base(path) != UnixScript {
		t.Fatalf("unexpected script name %s", path)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "#!/bin/sh\njava -Xmx2G -jar paper.jar nogui\n" {
		t.Fatalf("unexpected script %q", data)
	}

	if runtime.GOOS != "windows" {
		info, _ := os.Stat(path)
		if info.Mode().Perm()&0100 == 0 {
			t.Fatalf("expected script to be executable, mode %v", info.Mode())
		}
	}
}

func TestWriteStartScriptWindows(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteStartScript(dir, "paper.jar", nil, "windows")
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "@echo off") || !strings.Contains(string(data), "java -jar paper.jar nogui") {
		t.Fatalf("unexpected script %q", data)
	}
}

func TestPrepare(t *testing.T) {
	dir := t.TempDir()
	if err := Prepare(dir, "paper.jar", nil); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if accepted, _ := EULAAccepted(dir); !accepted {
		t.Fatalf("expected eula to be accepted")
	}
	if _, err := os.Stat(filepath.Join(dir, ScriptName(runtime.GOOS))); err != nil {
		t.Fatalf("expected start script: %v", err)
	}
	if info, err := os.Stat(filepath.Join(dir, PluginsDir)); err != nil || !info.IsDir() {
		t.Fatalf("expected plugins directory: %v", err)
	}

	if err := Prepare(filepath.Join(dir, "missing"), "paper.jar", nil); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
