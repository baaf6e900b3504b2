package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"
)

type docKind int

const (
	kindDeck docKind = iota
	kindWorkbook
)

type snapshotItem struct {
	path string
	kind docKind
}

type snapshotEntry struct {
	name     string
	sections []string
}

// SnapshotAdapter builds memory snapshots. Documents are read concurrently and
// their section lists are cached by path, size and modification time, so an
// edited file is always re-read.
type SnapshotAdapter struct {
	reader  ports.StructureReader
	cache   ports.Cache
	ttl     int
	logger  zerolog.Logger
	metrics *Metrics
}

// NewSnapshotAdapter creates the builder. A nil cache disables memoization.
func NewSnapshotAdapter(reader ports.StructureReader, cache ports.Cache, ttlSeconds int, logger zerolog.Logger, metrics *Metrics) *SnapshotAdapter {
	if cache == nil {
		cache = &noOpCache{}
	}
	return &SnapshotAdapter{
		reader:  reader,
		cache:   cache,
		ttl:     ttlSeconds,
		logger:  logger.With().Str("component", "snapshot").Logger(),
		metrics: metrics,
	}
}

// Build never fails: unreadable documents map to a single "Error: ..." entry.
// Display names colliding across paths resolve to the later path.
func (s *SnapshotAdapter) Build(ctx context.Context, docs conversation.Documents) conversation.MemorySnapshot {
	items := make([]snapshotItem, 0, len(docs.PPTXPaths)+len(docs.ExcelPaths))
	for _, p := range docs.PPTXPaths {
		items = append(items, snapshotItem{path: p, kind: kindDeck})
	}
	for _, p := range docs.ExcelPaths {
		items = append(items, snapshotItem{path: p, kind: kindWorkbook})
	}

	entries := iter.Map(items, func(it *snapshotItem) snapshotEntry {
		return snapshotEntry{name: conversation.DisplayName(it.path), sections: s.sections(ctx, *it)}
	})

	snap := make(conversation.MemorySnapshot, len(entries))
	for _, e := range entries {
		snap[e.name] = e.sections
	}
	return snap
}

func (s *SnapshotAdapter) sections(ctx context.Context, it snapshotItem) []string {
	if err := ctx.Err(); err != nil {
		return conversation.ErrorEntry(err)
	}
	info, err := os.Stat(it.path)
	if err != nil {
		return conversation.ErrorEntry(err)
	}
	key := fmt.Sprintf("structure|%d|%s|%d|%d", it.kind, it.path, info.Size(), info.ModTime().UnixNano())

	if raw, ok := s.cache.Get(ctx, key); ok {
		var cached []string
		if json.Unmarshal(raw, &cached) == nil {
			s.metrics.snapshotCache(true)
			return cached
		}
	}
	s.metrics.snapshotCache(false)

	var sections []string
	switch it.kind {
	case kindDeck:
		sections, err = s.reader.DeckSlides(ctx, it.path)
	case kindWorkbook:
		sections, err = s.reader.WorkbookSheets(ctx, it.path)
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("path", it.path).Msg("document structure unavailable")
		return conversation.ErrorEntry(err)
	}
	if sections == nil {
		sections = []string{}
	}

	if raw, err := json.Marshal(sections); err == nil {
		_ = s.cache.Set(ctx, key, raw, s.ttl)
	}
	return sections
}

var _ ports.SnapshotBuilder = (*SnapshotAdapter)(nil)
