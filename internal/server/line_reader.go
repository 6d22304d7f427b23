package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const lineReaderBufferSize = 64 * 1024

// LineReader splits a byte stream into text lines.
// Lines end at '\n'; a single trailing '\r' is dropped so CRLF output reads the
// same as LF output. A final line without a terminator is still emitted.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader creates a line reader over r
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, lineReaderBufferSize)}
}

// Run calls emit for every line in stream order until end of stream.
// It returns nil on a clean EOF and an error wrapping ErrIOFailure otherwise.
func (lr *LineReader) Run(emit func(line string)) error {
	for {
		line, err := lr.r.ReadString('\n')
		if line != "" {
			emit(trimLineEnding(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrIOFailure, err)
		}
	}
}

func trimLineEnding(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
