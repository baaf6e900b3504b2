// Package documents reads and edits the slide decks and workbooks a conversation
// works on.
package documents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/rs/zerolog"
)

// Activities implements the document operations behind the tool catalog.
// Document problems are reported as "Error: ..." results; only context errors are
// returned as errors.
type Activities struct {
	mutator Mutator
	logger  zerolog.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewActivities creates the document activities. A nil mutator disables mutation.
func NewActivities(mutator Mutator, logger zerolog.Logger) *Activities {
	if mutator == nil {
		mutator = DisabledMutator{}
	}
	return &Activities{
		mutator: mutator,
		logger:  logger.With().Str("component", "documents").Logger(),
		locks:   make(map[string]chan struct{}),
	}
}

// lock serializes reads and writes of one path across conversations. It gives
// up with ctx's error when ctx ends before the path is free.
func (a *Activities) lock(ctx context.Context, path string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	l, ok := a.locks[path]
	if !ok {
		l = make(chan struct{}, 1)
		a.locks[path] = l
	}
	a.mu.Unlock()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for %s: %w", path, ctx.Err())
	}
}

func (a *Activities) DeckSlides(ctx context.Context, path string) ([]string, error) {
	unlock, err := a.lock(ctx, path)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return SlideLabels(path)
}

func (a *Activities) WorkbookSheets(ctx context.Context, path string) ([]string, error) {
	unlock, err := a.lock(ctx, path)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return SheetNames(path)
}

func (a *Activities) InspectSlide(ctx context.Context, path string, index int) (string, error) {
	unlock, err := a.lock(ctx, path)
	if err != nil {
		return "", err
	}
	defer unlock()

	out, ok, err := SlideXML(path, index)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	if !ok {
		return ErrSlideOutOfRange(index), nil
	}
	return out, nil
}

func (a *Activities) InspectSheet(ctx context.Context, path, sheet string) (string, error) {
	unlock, err := a.lock(ctx, path)
	if err != nil {
		return "", err
	}
	defer unlock()

	out, err := SheetMarkdown(path, sheet)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	return out, nil
}

func (a *Activities) MutateSlide(ctx context.Context, path string, index int, code string) (string, error) {
	unlock, err := a.lock(ctx, path)
	if err != nil {
		return "", err
	}
	defer unlock()

	n, err := SlideCount(path)
	if err != nil {
		return mutationFailure(err, code), nil
	}
	if index < 0 || index >= n {
		return ErrSlideOutOfRange(index), nil
	}

	req := MutationRequest{Kind: "slide", FilePath: path, SlideIndex: &index, Code: code}
	if res, fault := a.mutate(ctx, req); res != "" || fault != nil {
		return res, fault
	}

	out, ok, err := SlideXML(path, index)
	if err != nil {
		return mutationFailure(err, code), nil
	}
	if !ok {
		return ErrSlideOutOfRange(index), nil
	}
	return out, nil
}

func (a *Activities) MutateSheet(ctx context.Context, path, sheet, code string) (string, error) {
	unlock, err := a.lock(ctx, path)
	if err != nil {
		return "", err
	}
	defer unlock()

	req := MutationRequest{Kind: "sheet", FilePath: path, SheetName: sheet, Code: code}
	if res, fault := a.mutate(ctx, req); res != "" || fault != nil {
		return res, fault
	}

	out, err := SheetMarkdown(path, sheet)
	if err != nil {
		return mutationFailure(err, code), nil
	}
	return out, nil
}

// mutate runs the mutator. A non-empty result is a failure message for the log.
func (a *Activities) mutate(ctx context.Context, req MutationRequest) (string, error) {
	err := a.mutator.Mutate(ctx, req)
	switch {
	case err == nil:
		a.logger.Info().Str("kind", req.Kind).Str("file_path", req.FilePath).Msg("document mutated")
		return "", nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", fmt.Errorf("mutate %s: %w", req.FilePath, err)
	case errors.Is(err, ErrMutationDisabled):
		return "Error: " + err.Error(), nil
	default:
		a.logger.Warn().Err(err).Str("kind", req.Kind).Str("file_path", req.FilePath).Msg("mutation failed")
		return mutationFailure(err, req.Code), nil
	}
}

func mutationFailure(err error, code string) string {
	return fmt.Sprintf("Error: %s\n\nCode attempted to execute:\n%s", err, code)
}

var _ ports.DocumentActivities = (*Activities)(nil)
