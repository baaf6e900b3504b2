package tools

import (
	"encoding/json"
	"fmt"
)

// Invocation is a parsed tool call. The set of implementations is closed:
// InspectSlide, InspectSheet, MutateSlide and MutateSheet.
type Invocation interface {
	Kind() Kind
	Path() string
	withPath(p string) Invocation
}

type InspectSlide struct {
	FilePath   string `json:"file_path"`
	SlideIndex int    `json:"slide_index"`
}

type InspectSheet struct {
	FilePath  string `json:"file_path"`
	SheetName string `json:"sheet_name"`
}

type MutateSlide struct {
	FilePath   string `json:"file_path"`
	SlideIndex int    `json:"slide_index"`
	Code       string `json:"code"`
}

type MutateSheet struct {
	FilePath  string `json:"file_path"`
	SheetName string `json:"sheet_name"`
	Code      string `json:"code"`
}

func (InspectSlide) Kind() Kind { return KindInspectSlide }
func (InspectSheet) Kind() Kind { return KindInspectSheet }
func (MutateSlide) Kind() Kind  { return KindMutateSlide }
func (MutateSheet) Kind() Kind  { return KindMutateSheet }

func (i InspectSlide) Path() string { return i.FilePath }
func (i InspectSheet) Path() string { return i.FilePath }
func (i MutateSlide) Path() string  { return i.FilePath }
func (i MutateSheet) Path() string  { return i.FilePath }

func (i InspectSlide) withPath(p string) Invocation { i.FilePath = p; return i }
func (i InspectSheet) withPath(p string) Invocation { i.FilePath = p; return i }
func (i MutateSlide) withPath(p string) Invocation  { i.FilePath = p; return i }
func (i MutateSheet) withPath(p string) Invocation  { i.FilePath = p; return i }

// Parse validates args against the schema of kind and decodes the typed record.
func Parse(v *JSONValidator, kind Kind, args json.RawMessage) (Invocation, error) {
	if err := v.Validate(args, kind.Schema()); err != nil {
		return nil, err
	}
	switch kind {
	case KindInspectSlide:
		return decode[InspectSlide](args)
	case KindInspectSheet:
		return decode[InspectSheet](args)
	case KindMutateSlide:
		return decode[MutateSlide](args)
	case KindMutateSheet:
		return decode[MutateSheet](args)
	}
	return nil, fmt.Errorf("unknown tool kind %d", kind)
}

func decode[T Invocation](args json.RawMessage) (Invocation, error) {
	var out T
	if err := json.Unmarshal(args, &out); err != nil {
		return nil, err
	}
	return out, nil
}
