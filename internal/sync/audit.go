package sync

import (
	"context"
	"log/slog"
	"sort"

	"github.com/coursedex/coursedex/internal/course"
)

// AuditReport describes the consistency of store and index.
type AuditReport struct {
	// StoreCount is the number of courses in the primary store.
	StoreCount int
	// IndexDocuments counts index documents, duplicates included.
	IndexDocuments int
	// IndexUniqueIDs counts distinct ids in the index.
	IndexUniqueIDs int
	// Duplicates maps each duplicated id to its document count.
	Duplicates map[string]int
	// MissingFromIndex are store ids with no index document.
	MissingFromIndex []string
	// OrphanedInIndex are index ids with no store item.
	OrphanedInIndex []string
	// Repaired is the number of duplicate documents removed when the
	// audit ran with repair enabled.
	Repaired int
}

// Consistent reports whether the two stores agree exactly.
func (r *AuditReport) Consistent() bool {
	return len(r.Duplicates) == 0 &&
		len(r.MissingFromIndex) == 0 &&
		len(r.OrphanedInIndex) == 0
}

// Audit compares the primary store against the vector index: count
// drift, duplicate documents, ids missing from the index, and index
// documents whose course no longer exists. With repair enabled,
// duplicated ids are collapsed to their oldest document before the
// report is built.
func (c *Coordinator) Audit(ctx context.Context, repair bool) (*AuditReport, error) {
	report := &AuditReport{}

	if repair {
		report.Repaired = c.index.RepairDuplicates()
		if report.Repaired > 0 {
			slog.Info("audit_duplicates_repaired", slog.Int("removed", report.Repaired))
		}
	}

	storeIDs := make(map[string]struct{})
	err := c.courses.ScanAll(ctx, c.cfg.PageSize, []string{"id"}, func(page []*course.Course, next string) error {
		for _, crs := range page {
			storeIDs[crs.ID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.StoreCount = len(storeIDs)
	report.IndexDocuments = c.index.Count()
	report.IndexUniqueIDs = c.index.UniqueIDs()
	report.Duplicates = c.index.DuplicateIDs()

	indexIDs := c.index.AllIDs()
	indexed := make(map[string]struct{}, len(indexIDs))
	for _, id := range indexIDs {
		indexed[id] = struct{}{}
		if _, ok := storeIDs[id]; !ok {
			report.OrphanedInIndex = append(report.OrphanedInIndex, id)
		}
	}
	for id := range storeIDs {
		if _, ok := indexed[id]; !ok {
			report.MissingFromIndex = append(report.MissingFromIndex, id)
		}
	}
	sort.Strings(report.MissingFromIndex)
	sort.Strings(report.OrphanedInIndex)

	if !report.Consistent() {
		slog.Warn("audit_inconsistency",
			slog.Int("duplicates", len(report.Duplicates)),
			slog.Int("missing_from_index", len(report.MissingFromIndex)),
			slog.Int("orphaned_in_index", len(report.OrphanedInIndex)))
	}
	return report, nil
}

// Stats is the cheap counters-only view of Audit, safe to call on a
// hot path.
type Stats struct {
	StoreCount     int
	IndexDocuments int
	IndexUniqueIDs int
	DuplicateIDs   int
}

// CollectStats returns store and index counters without scanning.
func (c *Coordinator) CollectStats(ctx context.Context) (*Stats, error) {
	count, err := c.courses.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		StoreCount:     count,
		IndexDocuments: c.index.Count(),
		IndexUniqueIDs: c.index.UniqueIDs(),
		DuplicateIDs:   len(c.index.DuplicateIDs()),
	}, nil
}
