// Package search serves query-time retrieval: embed the query, find
// nearest course vectors, hydrate the full courses from the primary
// store. It holds no locks and mutates nothing, so it is safe under
// unbounded concurrent callers.
package search

import (
	"context"
	"log/slog"

	"github.com/coursedex/coursedex/internal/course"
	"github.com/coursedex/coursedex/internal/embed"
	"github.com/coursedex/coursedex/internal/store"
	"github.com/coursedex/coursedex/internal/vector"
)

// CourseWithScore is one retrieval result.
type CourseWithScore struct {
	Course *course.Course
	Score  float32
}

// HybridRetriever answers text queries over the course corpus.
type HybridRetriever struct {
	courses  *store.CourseStore
	index    *vector.Index
	embedder embed.Embedder
}

// NewHybridRetriever wires a retriever over the given components.
func NewHybridRetriever(courses *store.CourseStore, index *vector.Index, embedder embed.Embedder) *HybridRetriever {
	return &HybridRetriever{
		courses:  courses,
		index:    index,
		embedder: embedder,
	}
}

// Search embeds the query, takes the k nearest index documents, and
// hydrates each id from the primary store. Ids that fail to hydrate
// are logged and dropped, so the result may be shorter than k. The
// vector ranking order is preserved; scores are strictly descending
// except for exact ties.
func (r *HybridRetriever) Search(ctx context.Context, query string, k int) ([]CourseWithScore, error) {
	if k <= 0 {
		return nil, nil
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := r.index.Search(queryVec, k)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []CourseWithScore{}, nil
	}

	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.ID)
	}

	courses, unresolved, err := r.courses.BatchGet(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(unresolved) > 0 {
		slog.Warn("search_hydration_unresolved",
			slog.String("query", query),
			slog.Int("count", len(unresolved)))
	}

	byID := make(map[string]*course.Course, len(courses))
	for _, c := range courses {
		byID[c.ID] = c
	}

	results := make([]CourseWithScore, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		// Duplicate index documents collapse to the first (best) hit.
		if _, dup := seen[hit.ID]; dup {
			continue
		}
		seen[hit.ID] = struct{}{}

		c, ok := byID[hit.ID]
		if !ok {
			slog.Warn("search_stale_index_id",
				slog.String("id", hit.ID),
				slog.String("query", query))
			continue
		}
		results = append(results, CourseWithScore{Course: c, Score: hit.Score})
	}

	return results, nil
}
