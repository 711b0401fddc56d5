package eventstore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/eventarchive/pkg/types"
)

// FileContents is the parsed content of one day file.
type FileContents struct {
	Events []types.EventRecord
	// Malformed counts non-blank lines that could not be parsed
	Malformed int
}

// Filter selects events on read. Zero values mean "no constraint".
type Filter struct {
	Types     []types.EventType
	SessionID string
	// Since is inclusive, Until is exclusive
	Since time.Time
	Until time.Time
	// Limit keeps only the most recent Limit matches
	Limit           int
	IncludeRedacted bool
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec *types.EventRecord) bool {
	if rec.Redacted && !f.IncludeRedacted {
		return false
	}
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.Timestamp.Before(f.Until) {
		return false
	}
	if len(f.Types) > 0 {
		for _, t := range f.Types {
			if rec.Type == t {
				return true
			}
		}
		return false
	}
	return true
}

// ReadFile parses the named day file. Malformed lines are skipped and counted.
func (s *Store) ReadFile(name string) (*FileContents, error) {
	return ReadFile(filepath.Join(s.dir, name), s.logger)
}

// ReadFile parses a JSONL event file at path.
func ReadFile(path string, logger *zap.Logger) (*FileContents, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open day file: %w", err)
	}
	defer file.Close()

	return parse(bufio.NewReader(file), filepath.Base(path), logger)
}

// ParseBytes parses JSONL content already held in memory.
func ParseBytes(data []byte, name string, logger *zap.Logger) (*FileContents, error) {
	return parse(bufio.NewReader(bytes.NewReader(data)), name, logger)
}

func parse(r *bufio.Reader, name string, logger *zap.Logger) (*FileContents, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	contents := &FileContents{}
	lineNo := 0
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				rec, perr := types.ParseEventLine(trimmed)
				if perr != nil {
					contents.Malformed++
					logger.Debug("skipping malformed event line",
						zap.String("file", name),
						zap.Int("line", lineNo),
						zap.Error(perr))
				} else {
					contents.Events = append(contents.Events, rec)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
	}
	return contents, nil
}

// Read returns the events matching filter sorted by (timestamp, id).
func (s *Store) Read(ctx context.Context, filter Filter) ([]types.EventRecord, error) {
	files, err := s.ListDayFiles()
	if err != nil {
		return nil, err
	}

	var out []types.EventRecord
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !filter.Since.IsZero() && !f.Date.AddDate(0, 0, 1).After(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !f.Date.Before(filter.Until) {
			continue
		}

		contents, err := s.ReadFile(f.Name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for i := range contents.Events {
			if filter.Match(&contents.Events[i]) {
				out = append(out, contents.Events[i])
			}
		}
	}

	types.SortEvents(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}
