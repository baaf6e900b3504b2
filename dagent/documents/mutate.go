package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// MutationRequest is the payload handed to a mutation worker. Code is opaque to
// this process and is never evaluated here.
type MutationRequest struct {
	Kind       string `json:"kind"` // "slide" or "sheet"
	FilePath   string `json:"file_path"`
	SlideIndex *int   `json:"slide_index,omitempty"`
	SheetName  string `json:"sheet_name,omitempty"`
	Code       string `json:"code"`
}

// MutationResponse is what a worker writes to stdout.
type MutationResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ErrMutationDisabled is returned by DisabledMutator.
var ErrMutationDisabled = errors.New("document mutation is disabled: no mutation worker configured")

// Mutator applies an edit to a document on disk.
type Mutator interface {
	Mutate(ctx context.Context, req MutationRequest) error
}

// DisabledMutator rejects every mutation.
type DisabledMutator struct{}

func (DisabledMutator) Mutate(context.Context, MutationRequest) error { return ErrMutationDisabled }

// ExecMutator runs an external worker per mutation: the request is written to its
// stdin as JSON and a MutationResponse is read from its stdout.
type ExecMutator struct {
	command []string
	logger  zerolog.Logger
}

// NewExecMutator creates a mutator for the given argv.
func NewExecMutator(command []string, logger zerolog.Logger) (*ExecMutator, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("mutation worker command is empty")
	}
	return &ExecMutator{
		command: append([]string(nil), command...),
		logger:  logger.With().Str("component", "mutation_worker").Logger(),
	}, nil
}

func (m *ExecMutator) Mutate(ctx context.Context, req MutationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal mutation request: %w", err)
	}

	cmd := exec.CommandContext(ctx, m.command[0], m.command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s := strings.TrimSpace(stderr.String()); s != "" {
		m.logger.Debug().Str("file_path", req.FilePath).Str("stderr", s).Msg("worker stderr")
	}

	var resp MutationResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		if runErr != nil {
			return fmt.Errorf("mutation worker failed: %w", runErr)
		}
		return fmt.Errorf("mutation worker returned malformed output: %w", err)
	}
	if !resp.OK {
		if resp.Error == "" {
			resp.Error = "mutation worker reported failure"
		}
		return errors.New(resp.Error)
	}
	if runErr != nil {
		return fmt.Errorf("mutation worker failed: %w", runErr)
	}
	return nil
}

// NewMutator returns an ExecMutator for a configured command, or DisabledMutator.
func NewMutator(command []string, logger zerolog.Logger) (Mutator, error) {
	if len(command) == 0 {
		return DisabledMutator{}, nil
	}
	return NewExecMutator(command, logger)
}
