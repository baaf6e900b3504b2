package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Guardrails holds the dispatch policy: which tools may run, which files they may
// touch and how results are cleaned before they reach the log.
type Guardrails struct {
	allowlist      map[string]bool // empty means every catalog tool
	activeOnly     bool
	maxOutputBytes int
	outputFilters  []*regexp.Regexp
}

// NewGuardrails creates guardrails allowing every catalog tool on active documents only.
func NewGuardrails() *Guardrails {
	return &Guardrails{
		allowlist:      make(map[string]bool),
		activeOnly:     true,
		maxOutputBytes: 256 << 10,
		outputFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)password[:=]\s*\S+`),
			regexp.MustCompile(`(?i)api[_-]?key[:=]\s*\S+`),
			regexp.MustCompile(`(?i)secret[:=]\s*\S+`),
		},
	}
}

// AddAllowedTool restricts dispatch to the allowlisted names.
func (g *Guardrails) AddAllowedTool(name string) {
	g.allowlist[name] = true
}

// AllowAnyPath lets tools address files outside the active document set.
func (g *Guardrails) AllowAnyPath() { g.activeOnly = false }

// SetMaxOutputBytes caps tool results; zero or less disables the cap.
func (g *Guardrails) SetMaxOutputBytes(n int) { g.maxOutputBytes = n }

// ToolAllowed reports whether name may be dispatched.
func (g *Guardrails) ToolAllowed(name string) bool {
	return len(g.allowlist) == 0 || g.allowlist[name]
}

// PathAllowed reports whether path is one of the active documents.
func (g *Guardrails) PathAllowed(path string, active map[string]string) bool {
	if !g.activeOnly {
		return true
	}
	for _, p := range active {
		if p == path {
			return true
		}
	}
	return false
}

// SanitizeOutput masks credentials and truncates oversized results.
func (g *Guardrails) SanitizeOutput(output string) string {
	for _, filter := range g.outputFilters {
		output = filter.ReplaceAllString(output, "[REDACTED]")
	}
	if g.maxOutputBytes > 0 && len(output) > g.maxOutputBytes {
		cut := g.maxOutputBytes
		for cut > 0 && !isRuneStart(output[cut]) {
			cut--
		}
		output = output[:cut] + fmt.Sprintf("\n[truncated %d bytes]", len(output)-cut)
	}
	return output
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// JSONValidator validates tool arguments against their JSON schema.
type JSONValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewJSONValidator creates a validator with the catalog schemas precompiled.
func NewJSONValidator() *JSONValidator {
	v := &JSONValidator{schemas: make(map[string]*gojsonschema.Schema)}
	for _, e := range catalog {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(e.schema))
		if err != nil {
			panic(fmt.Sprintf("tool schema %s: %v", e.name, err))
		}
		v.schemas[e.schema] = s
	}
	return v
}

// Validate checks that data is a JSON object conforming to schema.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if len(schema) == 0 {
		return nil
	}
	if !json.Valid(data) {
		return errors.New("arguments are not valid JSON")
	}

	var (
		result *gojsonschema.Result
		err    error
	)
	doc := gojsonschema.NewBytesLoader(data)
	if compiled, ok := v.schemas[string(schema)]; ok {
		result, err = compiled.Validate(doc)
	} else {
		result, err = gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), doc)
	}
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}
