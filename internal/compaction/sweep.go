package compaction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/pkg/types"
)

// SweepArchived removes hot files left behind for a period whose summary
// artifact already exists. A file is removed only when its archived copy is
// byte-identical; anything else stays in place and yields a warning.
func (a *Archiver) SweepArchived(ctx context.Context, period types.Period, files []eventstore.DayFile) (int, []string) {
	var (
		verified []eventstore.DayFile
		warnings []string
	)

	for _, f := range files {
		vr, err := a.validator.Validate(ctx, period, []eventstore.DayFile{f})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sweep %s: %v", f.Name, err))
			continue
		}
		if !vr.Valid {
			warnings = append(warnings, fmt.Sprintf("sweep %s: left in place: %s", f.Name, strings.Join(vr.Errors, "; ")))
			continue
		}
		verified = append(verified, f)
	}

	removed, removeWarnings := a.RemoveSourceFiles(verified)
	warnings = append(warnings, removeWarnings...)

	if removed > 0 {
		a.logger.Info("swept hot files of archived period",
			zap.String("period", period.String()),
			zap.Int("removed", removed))
	}
	return removed, warnings
}
