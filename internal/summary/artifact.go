package summary

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/eventarchive/pkg/types"
)

const (
	summaryPrefix = "summary-"
	summarySuffix = ".json"
)

// Artifact is the summary object written to the archive. Its presence marks
// the period as compacted.
type Artifact struct {
	PeriodSummary
	Archive *ArchiveInfo `json:"archive,omitempty"`
}

// ArchiveInfo records the run that produced an artifact.
type ArchiveInfo struct {
	RunID       string         `json:"runId"`
	CompactedAt time.Time      `json:"compactedAt"`
	Files       []ArchivedFile `json:"files"`
}

// ArchivedFile fingerprints one archived day file.
type ArchivedFile struct {
	Name   string `json:"name"`
	Bytes  int64  `json:"bytes"`
	XXHash string `json:"xxhash"`
}

// YearDir returns the archive directory for the period's year, e.g. "2025".
func YearDir(p types.Period) string {
	return strconv.Itoa(p.Year())
}

// ObjectPath returns the archive path of the period's summary artifact.
func ObjectPath(p types.Period) string {
	return path.Join(YearDir(p), summaryPrefix+p.String()+summarySuffix)
}

// FilePath returns the archive path of an archived day file.
func FilePath(p types.Period, name string) string {
	return path.Join(YearDir(p), name)
}

// ParseObjectPath recognizes a summary artifact path and returns its period.
func ParseObjectPath(objectPath string) (types.Period, bool) {
	base := path.Base(objectPath)
	if !strings.HasPrefix(base, summaryPrefix) || !strings.HasSuffix(base, summarySuffix) {
		return types.Period{}, false
	}
	p, err := types.ParsePeriod(strings.TrimSuffix(strings.TrimPrefix(base, summaryPrefix), summarySuffix))
	if err != nil {
		return types.Period{}, false
	}
	if path.Dir(objectPath) != YearDir(p) {
		return types.Period{}, false
	}
	return p, true
}

// Encode renders the artifact as indented JSON.
func (a *Artifact) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary artifact: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeArtifact parses an artifact written by Encode.
func DecodeArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode summary artifact: %w", err)
	}
	if _, err := types.ParsePeriod(a.Period); err != nil {
		return nil, fmt.Errorf("summary artifact: %w", err)
	}
	return &a, nil
}
