package conversation

import (
	"bytes"
	"encoding/json"
	"path/filepath"
)

// Documents is the active document set of a conversation.
type Documents struct {
	PPTXPaths  []string `json:"pptx_paths"`
	ExcelPaths []string `json:"excel_paths"`
}

// All returns every path, decks first.
func (d Documents) All() []string {
	out := make([]string, 0, len(d.PPTXPaths)+len(d.ExcelPaths))
	out = append(out, d.PPTXPaths...)
	return append(out, d.ExcelPaths...)
}

// DisplayName is the name a document is presented under: its base name.
func DisplayName(path string) string {
	return filepath.Base(path)
}

// PathMapping maps display names to full paths. When two paths share a base name the
// later one in All order wins.
func (d Documents) PathMapping() map[string]string {
	m := make(map[string]string, len(d.PPTXPaths)+len(d.ExcelPaths))
	for _, p := range d.All() {
		m[DisplayName(p)] = p
	}
	return m
}

// Clone returns a copy that shares no slices with d.
func (d Documents) Clone() Documents {
	return Documents{
		PPTXPaths:  append([]string(nil), d.PPTXPaths...),
		ExcelPaths: append([]string(nil), d.ExcelPaths...),
	}
}

// ErrorEntry renders a snapshot placeholder for a document that could not be read.
func ErrorEntry(err error) []string {
	return []string{"Error: " + err.Error()}
}

// MemorySnapshot maps display names to ordered section labels.
type MemorySnapshot map[string][]string

// Clone deep-copies the snapshot.
func (s MemorySnapshot) Clone() MemorySnapshot {
	if s == nil {
		return nil
	}
	out := make(MemorySnapshot, len(s))
	for k, v := range s {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// MarshalMemory renders the snapshot in the {"Memory": {...}} envelope used by the
// system prompt.
func (s MemorySnapshot) MarshalMemory() ([]byte, error) {
	m := s
	if m == nil {
		m = MemorySnapshot{}
	}
	return IndentJSON(map[string]MemorySnapshot{"Memory": m})
}

// IndentJSON encodes v with two-space indentation and leaves &, < and > as is,
// so document names appear in the output exactly as on disk.
func IndentJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ConversationState is everything the orchestrator owns for one conversation.
type ConversationState struct {
	ID          string
	Log         *Log
	Documents   Documents
	Snapshot    MemorySnapshot
	PathMapping map[string]string
}

// NewState creates an empty conversation with the given system content.
func NewState(id, system string) *ConversationState {
	return &ConversationState{
		ID:          id,
		Log:         NewLog(system),
		Snapshot:    MemorySnapshot{},
		PathMapping: map[string]string{},
	}
}

// SetDocuments replaces the active set and derives a fresh name mapping.
func (s *ConversationState) SetDocuments(d Documents) {
	s.Documents = d.Clone()
	s.PathMapping = s.Documents.PathMapping()
}
