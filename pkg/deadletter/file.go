package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileStore appends records to a JSON-lines file, rotating once a file
// holds maxRecords records.
type FileStore struct {
	mu sync.Mutex

	path      string
	file      *os.File
	encoder   *json.Encoder
	count     int64
	fileIndex int

	maxRecords int64 // 0 = unlimited
	closed     bool
}

// NewFileStore opens (or creates) the dead letter file at path. Rotated
// files get a numeric suffix next to the original.
func NewFileStore(path string, maxRecords int64) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dead letter directory: %w", err)
		}
	}
	s := &FileStore{path: path, maxRecords: maxRecords}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) open() error {
	path := s.path
	if s.fileIndex > 0 {
		ext := filepath.Ext(path)
		path = fmt.Sprintf("%s.%04d%s", path[:len(path)-len(ext)], s.fileIndex, ext)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open dead letter file: %w", err)
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

// Write appends one record.
func (s *FileStore) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("dead letter store is closed")
	}

	if s.maxRecords > 0 && s.count >= s.maxRecords {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	if err := s.encoder.Encode(rec); err != nil {
		return fmt.Errorf("write dead letter record: %w", err)
	}
	s.count++
	return nil
}

func (s *FileStore) rotate() error {
	if s.file != nil {
		s.file.Close()
	}
	s.count = 0
	s.fileIndex++
	return s.open()
}

// Count returns the number of records in the current file.
func (s *FileStore) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Name returns "file".
func (s *FileStore) Name() string { return "file" }

// Close flushes and closes the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

var _ Store = (*FileStore)(nil)

// Reader iterates over a dead letter file.
type Reader struct {
	file    *os.File
	decoder *json.Decoder
}

// NewReader opens a dead letter file for reading.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: file, decoder: json.NewDecoder(file)}, nil
}

// Read returns the next record, or io.EOF at the end of the file.
func (r *Reader) Read() (*Record, error) {
	var rec Record
	if err := r.decoder.Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ReadAll drains the file into memory.
func (r *Reader) ReadAll() ([]*Record, error) {
	var out []*Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}
