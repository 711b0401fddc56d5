// Package eventstore is the hot event log: one JSON object per line, one file
// per UTC calendar day, named events-YYYY-MM-DD.jsonl. Appends are durable
// (fsync per record); reads are lenient and skip lines that fail to parse.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	arkerrors "github.com/arkilian/eventarchive/internal/errors"
	"github.com/arkilian/eventarchive/pkg/types"
)

const (
	filePrefix = "events-"
	fileSuffix = ".jsonl"
)

// DayFile is one day-partitioned hot file.
type DayFile struct {
	// Name is the base file name, e.g. events-2025-08-01.jsonl
	Name string
	// Path is the full filesystem path
	Path string
	// Date is midnight UTC of the day the file covers
	Date time.Time
}

// Period returns the month the file belongs to.
func (d DayFile) Period() types.Period {
	return types.PeriodOf(d.Date)
}

// FileName returns the hot file name for the UTC day containing t.
func FileName(t time.Time) string {
	return filePrefix + t.UTC().Format(types.DayLayout) + fileSuffix
}

// ParseFileName extracts the day from a hot file name.
func ParseFileName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	day := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	t, err := time.Parse(types.DayLayout, day)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for skipped lines and appends.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used to stamp records appended without a
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the file-backed hot event store.
type Store struct {
	dir    string
	ids    *types.IDGenerator
	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// New returns a store rooted at dir. The directory is created on first append;
// reading a store whose directory does not exist yields no events.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		ids:    types.NewIDGenerator(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory holding the day files.
func (s *Store) Dir() string {
	return s.dir
}

// Append writes rec to the file for its UTC day. A missing id or timestamp is
// filled in and written back into rec.
func (s *Store) Append(ctx context.Context, rec *types.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.ID == "" {
		id, err := s.ids.Generate(rec.Timestamp)
		if err != nil {
			return err
		}
		rec.ID = id
	}
	if err := rec.Validate(); err != nil {
		return arkerrors.Wrap(arkerrors.ErrCategoryValidation, arkerrors.CodeInvalidEvent, "invalid event", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	payload = append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return arkerrors.NewStoreError(arkerrors.CodeWriteFailed, "failed to create events directory", err)
	}

	path := filepath.Join(s.dir, FileName(rec.Timestamp))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return arkerrors.NewStoreError(arkerrors.CodeWriteFailed, "failed to open day file", err)
	}
	defer file.Close()

	if _, err := file.Write(payload); err != nil {
		return arkerrors.NewStoreError(arkerrors.CodeWriteFailed, "failed to write event", err)
	}
	if err := file.Sync(); err != nil {
		return arkerrors.NewStoreError(arkerrors.CodeWriteFailed, "failed to fsync day file", err)
	}

	s.logger.Debug("event appended",
		zap.String("id", rec.ID),
		zap.String("type", string(rec.Type)),
		zap.String("file", filepath.Base(path)))
	return nil
}

// ListDayFiles returns every hot file sorted by date. A missing directory is
// not an error.
func (s *Store) ListDayFiles() ([]DayFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read events directory: %w", err)
	}

	var files []DayFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}
		files = append(files, DayFile{
			Name: entry.Name(),
			Path: filepath.Join(s.dir, entry.Name()),
			Date: date,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Date.Before(files[j].Date)
	})
	return files, nil
}
