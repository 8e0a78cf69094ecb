package ucache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	entryMarker = "#UCACHE"
	fileEnd     = "#END"
	tempPattern = ".ucache-*.tmp"
)

// ErrMalformed is returned when a cache file cannot be parsed.
var ErrMalformed = errors.New("malformed ucache file")

// Store persists a Cache to a single file.
type Store struct {
	path string
	log  *zap.Logger
}

// NewStore returns a Store writing to path.
func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Refresh prunes stale entries and writes the survivors to disk. A failed
// write is logged and otherwise ignored.
func (s *Store) Refresh(c *Cache, now time.Time) int {
	removed := c.Prune(now)
	if err := s.Save(c); err != nil {
		s.log.Warn("failed to save ucache", zap.String("path", s.path), zap.Error(err))
	} else {
		s.log.Debug("ucache refreshed", zap.Int("removed", removed), zap.Int("entries", c.Len()))
	}
	return removed
}

// Save writes every entry to disk, replacing the file atomically.
func (s *Store) Save(c *Cache) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ucache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp ucache file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if err := Write(tmp, c.Entries()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp ucache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ucache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace ucache file: %w", err)
	}
	cleanup = false
	return nil
}

// Load reads the file and merges it into c. A missing file is not an error.
func (s *Store) Load(c *Cache) (int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open ucache file: %w", err)
	}
	defer f.Close()

	entries, err := Read(f)
	if err != nil {
		return 0, err
	}
	return c.Merge(entries), nil
}

// Write renders entries in the on-disk stanza format.
func Write(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		fmt.Fprintf(bw, "%s\nName %s\nSex %d\nTime %d\nEnd\n\n", entryMarker, e.Name, e.Sex, e.Time)
	}
	fmt.Fprintf(bw, "%s\n", fileEnd)
	return bw.Flush()
}

// Read parses the stanza format written by Write.
func Read(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		cur     *Entry
		lineNo  int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		word, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)

		switch {
		case word == fileEnd:
			return entries, nil
		case word == entryMarker:
			cur = &Entry{Sex: UnknownSex}
		case cur == nil:
			return nil, fmt.Errorf("%w: line %d: %q outside of an entry", ErrMalformed, lineNo, word)
		case word == "Name":
			cur.Name = value
		case word == "Sex":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: sex: %v", ErrMalformed, lineNo, err)
			}
			cur.Sex = n
		case word == "Time":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: time: %v", ErrMalformed, lineNo, err)
			}
			cur.Time = n
		case word == "End":
			if cur.Name != "" {
				entries = append(entries, *cur)
			}
			cur = nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ucache file: %w", err)
	}
	return entries, nil
}
