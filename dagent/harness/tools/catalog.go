// Package tools defines the closed document tool catalog and dispatches model tool
// calls to the document activities.
package tools

import (
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
)

// Kind is one of the four document tools.
type Kind int

const (
	KindInspectSlide Kind = iota + 1
	KindInspectSheet
	KindMutateSlide
	KindMutateSheet
)

const (
	NameInspectSlide = "inspect-slide"
	NameInspectSheet = "inspect-sheet"
	NameMutateSlide  = "mutate-slide"
	NameMutateSheet  = "mutate-sheet"
)

// InspectSlideSchema defines the arguments of inspect-slide.
const InspectSlideSchema = `{
  "type": "object",
  "properties": {
    "file_path": {
      "type": "string",
      "description": "Name or path of the PowerPoint file",
      "minLength": 1
    },
    "slide_index": {
      "type": "integer",
      "description": "Zero-based index of the slide to retrieve",
      "minimum": 0
    }
  },
  "required": ["file_path", "slide_index"]
}`

// InspectSheetSchema defines the arguments of inspect-sheet.
const InspectSheetSchema = `{
  "type": "object",
  "properties": {
    "file_path": {
      "type": "string",
      "description": "Name or path of the Excel file",
      "minLength": 1
    },
    "sheet_name": {
      "type": "string",
      "description": "Name of the sheet to retrieve"
    }
  },
  "required": ["file_path", "sheet_name"]
}`

// MutateSlideSchema defines the arguments of mutate-slide.
const MutateSlideSchema = `{
  "type": "object",
  "properties": {
    "file_path": {
      "type": "string",
      "description": "Name or path of the PowerPoint file",
      "minLength": 1
    },
    "slide_index": {
      "type": "integer",
      "description": "Zero-based index of the slide to modify",
      "minimum": 0
    },
    "code": {
      "type": "string",
      "description": "Edit instructions for the slide, handed to the mutation worker as-is"
    }
  },
  "required": ["file_path", "slide_index", "code"]
}`

// MutateSheetSchema defines the arguments of mutate-sheet.
const MutateSheetSchema = `{
  "type": "object",
  "properties": {
    "file_path": {
      "type": "string",
      "description": "Name or path of the Excel file",
      "minLength": 1
    },
    "sheet_name": {
      "type": "string",
      "description": "Name of the sheet to modify"
    },
    "code": {
      "type": "string",
      "description": "Edit instructions for the sheet, handed to the mutation worker as-is"
    }
  },
  "required": ["file_path", "sheet_name", "code"]
}`

type entry struct {
	kind        Kind
	name        string
	description string
	schema      string
	mutating    bool
}

var catalog = []entry{
	{KindInspectSlide, NameInspectSlide, "Get the XML representation of a slide from a PowerPoint file", InspectSlideSchema, false},
	{KindInspectSheet, NameInspectSheet, "Get the data from an Excel sheet as a markdown table", InspectSheetSchema, false},
	{KindMutateSlide, NameMutateSlide, "Modify a slide of a PowerPoint file", MutateSlideSchema, true},
	{KindMutateSheet, NameMutateSheet, "Modify a sheet of an Excel file", MutateSheetSchema, true},
}

// Lookup resolves a tool name to its kind.
func Lookup(name string) (Kind, bool) {
	for _, e := range catalog {
		if e.name == name {
			return e.kind, true
		}
	}
	return 0, false
}

func (k Kind) entry() entry {
	for _, e := range catalog {
		if e.kind == k {
			return e
		}
	}
	return entry{}
}

// String returns the tool name of k.
func (k Kind) String() string { return k.entry().name }

// Mutating reports whether the tool changes a document.
func (k Kind) Mutating() bool { return k.entry().mutating }

// Schema returns the JSON schema of the tool arguments.
func (k Kind) Schema() []byte { return []byte(k.entry().schema) }

// Specs returns the fixed catalog in declaration order.
func Specs() []ports.ToolSpec {
	out := make([]ports.ToolSpec, len(catalog))
	for i, e := range catalog {
		out[i] = ports.ToolSpec{Name: e.name, Description: e.description, JSONSchema: []byte(e.schema)}
	}
	return out
}
