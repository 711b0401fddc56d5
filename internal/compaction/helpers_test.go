package compaction

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/internal/storage"
	"github.com/arkilian/eventarchive/pkg/types"
)

// memStorage is an in-memory ObjectStorage with failure hooks, standing in
// for a remote backend.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	// mangle rewrites data on Put when set
	mangle func(objectPath string, data []byte) []byte
}

var _ storage.ObjectStorage = (*memStorage)(nil)

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (m *memStorage) Put(ctx context.Context, objectPath string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if m.mangle != nil {
		data = m.mangle(objectPath, data)
	}
	m.objects[objectPath] = append([]byte(nil), data...)
	return nil
}

func (m *memStorage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectPath]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memStorage) Delete(ctx context.Context, objectPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectPath)
	return nil
}

func (m *memStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[objectPath]
	return ok, nil
}

func (m *memStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// fixedClock returns a clock frozen at t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type env struct {
	eventsDir  string
	archiveDir string
	indexPath  string
	store      *eventstore.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		eventsDir:  filepath.Join(root, "events"),
		archiveDir: filepath.Join(root, "archive"),
		indexPath:  filepath.Join(root, "index.db"),
	}
	e.store = eventstore.New(e.eventsDir)
	return e
}

func (e *env) options(cutoffDays, maxPeriods int) Options {
	return Options{
		EventsDir:        e.eventsDir,
		ArchiveDir:       e.archiveDir,
		IndexPath:        e.indexPath,
		CutoffDays:       cutoffDays,
		MaxPeriodsPerRun: maxPeriods,
	}
}

// seedMonth appends perDay events to every day of the given month.
func (e *env) seedMonth(t *testing.T, year int, month time.Month, perDay int) int {
	t.Helper()
	p := types.NewPeriod(year, month)
	total := 0
	for day := 1; day <= p.Days(); day++ {
		for i := 0; i < perDay; i++ {
			e.append(t, time.Date(year, month, day, 9+i, 15, 0, 0, time.UTC), types.TypeMessage)
			total++
		}
	}
	return total
}

func (e *env) append(t *testing.T, ts time.Time, typ types.EventType) *types.EventRecord {
	t.Helper()
	rec := &types.EventRecord{
		Timestamp: ts,
		SessionID: "sess-" + ts.Format("2006-01"),
		Type:      typ,
	}
	if typ == types.TypeToolCall {
		rec.Data = types.Payload{"tool": "grep"}
	}
	require.NoError(t, e.store.Append(context.Background(), rec))
	return rec
}

func (e *env) hotFiles(t *testing.T, period string) []string {
	t.Helper()
	files, err := e.store.ListDayFiles()
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		if f.Period().String() == period {
			names = append(names, f.Name)
		}
	}
	return names
}

func (e *env) snapshotHot(t *testing.T, period string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, name := range e.hotFiles(t, period) {
		data, err := os.ReadFile(filepath.Join(e.eventsDir, name))
		require.NoError(t, err)
		out[name] = data
	}
	return out
}

func snapshotDir(t *testing.T, root string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return out
	}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[filepath.ToSlash(rel)] = data
		return nil
	})
	require.NoError(t, err)
	return out
}
