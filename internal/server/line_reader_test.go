package server

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, r io.Reader) ([]string, error) {
	t.Helper()
	var lines []string
	err := NewLineReader(r).Run(func(line string) {
		lines = append(lines, line)
	})
	return lines, err
}

func TestLineReaderSplitsLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "hello\n", []string{"hello"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"blank line", "a\n\nb\n", []string{"a", "", "b"}},
		{"unterminated", "a\nb", []string{"a", "b"}},
		{"lone carriage return kept inside", "a\rb\n", []string{"a\rb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := readAll(t, strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(lines, "|") != strings.Join(tt.want, "|") || len(lines) != len(tt.want) {
				t.Fatalf("expected %q, got %q", tt.want, lines)
			}
		})
	}
}

func TestLineReaderLongLine(t *testing.T) {
	long := strings.Repeat("x", 3*lineReaderBufferSize)
	lines, err := readAll(t, strings.NewReader(long+"\nshort\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 || lines[0] != long || lines[1] != "short" {
		t.Fatalf("long line was split or lost: %d lines", len(lines))
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestLineReaderReportsReadFailure(t *testing.T) {
	reader := &failingReader{data: []byte("first\npartial"), err: errors.New("device gone")}
	lines, err := readAll(t, reader)
	if !errors.Is(err, ErrIOFailure) {
		t.Fatalf("expected ErrIOFailure, got %v", err)
	}
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "partial" {
		t.Fatalf("lines before the failure should be delivered, got %q", lines)
	}
}
