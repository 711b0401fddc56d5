package compaction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/internal/storage"
	"github.com/arkilian/eventarchive/internal/summary"
	"github.com/arkilian/eventarchive/pkg/types"
)

// ValidationResult holds the outcome of verifying archived copies.
type ValidationResult struct {
	Valid  bool
	Files  []summary.ArchivedFile
	Errors []string
}

// Validator checks archived copies against their hot-store sources.
type Validator struct {
	storage storage.ObjectStorage
}

// NewValidator creates a validator reading copies from store.
func NewValidator(store storage.ObjectStorage) *Validator {
	return &Validator{storage: store}
}

// Validate reads back every archived copy of files and compares it byte for
// byte with the source. The fingerprints of valid copies are returned for
// the summary artifact.
func (v *Validator) Validate(ctx context.Context, period types.Period, files []eventstore.DayFile) (*ValidationResult, error) {
	vr := &ValidationResult{Valid: true}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		source, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read source %s: %w", f.Name, err)
		}

		copied, err := v.storage.Get(ctx, summary.FilePath(period, f.Name))
		if err != nil {
			vr.Valid = false
			vr.Errors = append(vr.Errors, fmt.Sprintf("%s: %v", f.Name, err))
			continue
		}

		if !bytes.Equal(source, copied) {
			vr.Valid = false
			vr.Errors = append(vr.Errors, fmt.Sprintf(
				"%s: archived copy differs from source (%d bytes, expected %d)",
				f.Name, len(copied), len(source)))
			continue
		}

		vr.Files = append(vr.Files, Fingerprint(f.Name, source))
	}

	return vr, nil
}

// Fingerprint describes data for the summary artifact.
func Fingerprint(name string, data []byte) summary.ArchivedFile {
	return summary.ArchivedFile{
		Name:   name,
		Bytes:  int64(len(data)),
		XXHash: strconv.FormatUint(xxhash.Sum64(data), 16),
	}
}
