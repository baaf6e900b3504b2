package harnessports

import (
	"context"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
)

// SnapshotBuilder derives the memory snapshot of a document set. It never fails:
// unreadable documents become error placeholders.
type SnapshotBuilder interface {
	Build(ctx context.Context, docs conversation.Documents) conversation.MemorySnapshot
}

// StructureReader lists the section labels of one document.
type StructureReader interface {
	DeckSlides(ctx context.Context, path string) ([]string, error)
	WorkbookSheets(ctx context.Context, path string) ([]string, error)
}

// DocumentActivities are the document-level operations behind the tool catalog.
// The returned string is the tool result, including "Error: ..." messages; the
// error return is reserved for faults such as cancellation.
type DocumentActivities interface {
	StructureReader
	InspectSlide(ctx context.Context, path string, index int) (string, error)
	InspectSheet(ctx context.Context, path, sheet string) (string, error)
	MutateSlide(ctx context.Context, path string, index int, code string) (string, error)
	MutateSheet(ctx context.Context, path, sheet, code string) (string, error)
}
