// Package properties reads and edits server.properties files without
// disturbing comments, blank lines or key order.
package properties

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
)

// FileName is the properties file inside the server directory
const FileName = "server.properties"

// ErrNotFound is returned when the properties file does not exist yet
var ErrNotFound = errors.New("properties file not found")

type line struct {
	raw   string // original text, written back unless the entry changed
	key   string
	value string
	sep   string
	dirty bool
}

// File is a parsed properties file
type File struct {
	lines []line
	index map[string]int
}

// New returns an empty properties file
func New() *File {
	return &File{index: make(map[string]int)}
}

// Load reads a properties file from disk
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read properties: %w", err)
	}
	return Parse(data), nil
}

// Parse parses key=value and key: value lines. Later duplicates win.
func Parse(data []byte) *File {
	f := New()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") {
			f.lines = append(f.lines, line{raw: text})
			continue
		}

		key, value, sep := splitEntry(trimmed)
		if idx, ok := f.index[key]; ok {
			f.lines[idx].value = value
			f.lines[idx].dirty = true
			continue
		}
		f.index[key] = len(f.lines)
		f.lines = append(f.lines, line{raw: text, key: key, value: value, sep: sep})
	}
	return f
}

func splitEntry(text string) (string, string, string) {
	i := strings.IndexAny(text, "=:")
	if i < 0 {
		return text, "", "="
	}
	return strings.TrimSpace(text[:i]), strings.TrimSpace(text[i+1:]), string(text[i])
}

// Get returns the value of key
func (f *File) Get(key string) (string, bool) {
	idx, ok := f.index[key]
	if !ok {
		return "", false
	}
	return f.lines[idx].value, true
}

// Set updates key in place or appends it
func (f *File) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("property key is empty")
	}
	if strings.ContainsAny(key, "=:\r\n") || strings.HasPrefix(key, "#") {
		return fmt.Errorf("invalid property key %q", key)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("property value for %s contains line breaks", key)
	}

	if idx, ok := f.index[key]; ok {
		if f.lines[idx].value != value {
			f.lines[idx].value = value
			f.lines[idx].dirty = true
		}
		return nil
	}
	f.index[key] = len(f.lines)
	f.lines = append(f.lines, line{key: key, value: value, sep: "=", dirty: true})
	return nil
}

// Delete removes key and reports whether it existed
func (f *File) Delete(key string) bool {
	idx, ok := f.index[key]
	if !ok {
		return false
	}
	f.lines = append(f.lines[:idx], f.lines[idx+1:]...)
	delete(f.index, key)
	for k, i := range f.index {
		if i > idx {
			f.index[k] = i - 1
		}
	}
	return true
}

// Keys returns keys in file order
func (f *File) Keys() []string {
	keys := make([]string, 0, len(f.index))
	for _, l := range f.lines {
		if l.key != "" {
			keys = append(keys, l.key)
		}
	}
	return keys
}

// Map returns all entries as a map
func (f *File) Map() map[string]string {
	m := make(map[string]string, len(f.index))
	for _, l := range f.lines {
		if l.key != "" {
			m[l.key] = l.value
		}
	}
	return m
}

// Bytes renders the file
func (f *File) Bytes() []byte {
	var buf bytes.Buffer
	for _, l := range f.lines {
		if l.key == "" || !l.dirty {
			buf.WriteString(l.raw)
		} else {
			buf.WriteString(l.key)
			buf.WriteString(l.sep)
			buf.WriteString(l.value)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Save writes the file atomically through a temp file in the same directory
func (f *File) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create properties directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".properties-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(f.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write properties: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write properties: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace properties: %w", err)
	}
	return nil
}

// Update loads path (or starts empty if missing), applies changes and saves it
func Update(path string, changes map[string]string) (*File, error) {
	f, err := Load(path)
	if errors.Is(err, ErrNotFound) {
		f = New()
	} else if err != nil {
		return nil, err
	}

	for key, value := range changes {
		if err := f.Set(key, value); err != nil {
			return nil, err
		}
	}
	if err := f.Save(path); err != nil {
		return nil, err
	}
	return f, nil
}

// Edit opens path in an editor attached to the current terminal.
// editor falls back to $VISUAL, $EDITOR and then vi (notepad on Windows).
func Edit(path, editor string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}

	args, err := shellquote.Split(resolveEditor(editor))
	if err != nil || len(args) == 0 {
		return fmt.Errorf("invalid editor command %q", resolveEditor(editor))
	}
	cmd := exec.Command(args[0], append(args[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}
	return nil
}

func resolveEditor(editor string) string {
	for _, candidate := range []string{editor, os.Getenv("VISUAL"), os.Getenv("EDITOR")} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	if filepath.Separator == '\\' {
		return "notepad"
	}
	return "vi"
}
