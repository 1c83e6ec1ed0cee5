//////////////////////////////////////////////////////////////////////////////
//
// File sink
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package sink

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileSink appends received media to a file. Reconnects of the same stream
// keep appending to the same file.
type FileSink struct {
	file *os.File
}

func NewFileSink(filename string) (*FileSink, error) {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &FileSink{file: f}, nil
}

// Close file sink
func (s *FileSink) Close() error {
	return s.file.Close()
}

// Write buffer to file
func (s *FileSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// recordingPath maps a stream key to a file name under dir. Keys are opaque,
// so anything that is not safe in a file name is replaced.
func recordingPath(dir, key string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
	return filepath.Join(dir, name+".bin")
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
