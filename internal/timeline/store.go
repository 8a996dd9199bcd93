package timeline

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Sink receives completed command records.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Fanout delivers a record to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Store appends records to one file per console under dir.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(console string) string {
	name := strings.TrimSpace(console)
	if name == "" {
		name = "default"
	}
	return filepath.Join(s.dir, name+".timeline")
}

// Record appends rec to its console's file.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := rec.Marshal()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path(rec.Console)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(b)))
	if _, err := f.Write(append(hdr[:n:n], b...)); err != nil {
		return fmt.Errorf("append timeline record: %w", err)
	}
	return nil
}

// List returns the last limit records of a console, oldest first. A limit of
// zero returns everything. Records that fail to decode are skipped.
func (s *Store) List(console string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path(console))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	var all []Record
	for {
		msg, err := readDelimited(r)
		// A torn tail from an interrupted append ends the log.
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, err := Unmarshal(msg)
		if err != nil {
			continue
		}
		all = append(all, rec)
	}
	if limit <= 0 || len(all) <= limit {
		return all, nil
	}
	return all[len(all)-limit:], nil
}

func readDelimited(r *bufio.Reader) ([]byte, error) {
	l, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if l == 0 {
		return nil, fmt.Errorf("invalid record length 0")
	}
	if l > 64*1024*1024 {
		return nil, fmt.Errorf("record too large: %d", l)
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
