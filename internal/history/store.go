package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the on-disk record. Each line is one length-delimited
// entry under fieldLine.
const (
	fieldLine    protowire.Number = 1
	fieldChannel protowire.Number = 1
	fieldSource  protowire.Number = 2
	fieldText    protowire.Number = 3
	fieldTime    protowire.Number = 4
)

const tempPattern = ".imc-history-*.bin.tmp"

// ErrCorrupt is returned when a history file cannot be decoded.
var ErrCorrupt = errors.New("corrupt history file")

// Store persists a Log to a single file.
type Store struct {
	path string
	log  *zap.Logger
}

// NewStore returns a Store backed by path.
func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

// Save writes l to disk, replacing the previous file.
func (s *Store) Save(l *Log) error {
	lines := l.All()
	sort.SliceStable(lines, func(i, j int) bool {
		return strings.ToLower(lines[i].Channel) < strings.ToLower(lines[j].Channel)
	})

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp history file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(Marshal(lines)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp history file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp history file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace history file: %w", err)
	}
	cleanup = false
	s.log.Debug("history saved", zap.Int("lines", len(lines)), zap.String("path", s.path))
	return nil
}

// Load reads the file into l. A missing file is not an error.
func (s *Store) Load(l *Log) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read history file: %w", err)
	}
	lines, err := Unmarshal(data)
	if err != nil {
		return err
	}
	for _, line := range lines {
		l.append(line)
	}
	return nil
}

// Marshal encodes lines in order.
func Marshal(lines []Line) []byte {
	var out []byte
	for _, line := range lines {
		var rec []byte
		rec = protowire.AppendTag(rec, fieldChannel, protowire.BytesType)
		rec = protowire.AppendString(rec, line.Channel)
		rec = protowire.AppendTag(rec, fieldSource, protowire.BytesType)
		rec = protowire.AppendString(rec, line.Source)
		rec = protowire.AppendTag(rec, fieldText, protowire.BytesType)
		rec = protowire.AppendString(rec, line.Text)
		rec = protowire.AppendTag(rec, fieldTime, protowire.VarintType)
		rec = protowire.AppendVarint(rec, uint64(line.Time))

		out = protowire.AppendTag(out, fieldLine, protowire.BytesType)
		out = protowire.AppendBytes(out, rec)
	}
	return out
}

// Unmarshal decodes data produced by Marshal. Unknown fields are skipped.
func Unmarshal(data []byte) ([]Line, error) {
	var lines []Line
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		data = data[n:]

		if num != fieldLine || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		rec, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		data = data[n:]

		line, err := unmarshalLine(rec)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func unmarshalLine(rec []byte) (Line, error) {
	var line Line
	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return Line{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		rec = rec[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldChannel || num == fieldSource || num == fieldText):
			v, n := protowire.ConsumeString(rec)
			if n < 0 {
				return Line{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			rec = rec[n:]
			switch num {
			case fieldChannel:
				line.Channel = v
			case fieldSource:
				line.Source = v
			case fieldText:
				line.Text = v
			}
		case typ == protowire.VarintType && num == fieldTime:
			v, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return Line{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			rec = rec[n:]
			line.Time = int64(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, rec)
			if n < 0 {
				return Line{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			rec = rec[n:]
		}
	}
	return line, nil
}
