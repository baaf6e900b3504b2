package harness

import (
	"encoding/json"
	"regexp"
	"strings"

	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/google/uuid"
)

// OutputParser recovers tool calls that a model wrote into plain text instead of
// the structured tool_calls field.
type OutputParser struct {
	known            map[string]bool
	toolCallPatterns []*regexp.Regexp
}

// NewOutputParser creates a parser accepting only the given tool names.
func NewOutputParser(specs []ports.ToolSpec) *OutputParser {
	known := make(map[string]bool, len(specs))
	for _, s := range specs {
		known[s.Name] = true
	}
	return &OutputParser{
		known: known,
		toolCallPatterns: []*regexp.Regexp{
			// JSON object format: {"name": "tool", "arguments": {...}}
			regexp.MustCompile(`\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"arguments"\s*:\s*(\{.*?\})\s*\}`),
			// Function call format: tool-name({"arg": "value"})
			regexp.MustCompile(`([\w-]+)\s*\(\s*(\{.*?\})\s*\)`),
		},
	}
}

// ParseToolCalls extracts tool calls in order of appearance. Each call gets a fresh id.
func (p *OutputParser) ParseToolCalls(text string) []ports.ToolCall {
	type hit struct {
		at   int
		call ports.ToolCall
	}
	var hits []hit
	taken := make(map[int]bool)

	for _, pattern := range p.toolCallPatterns {
		for _, m := range pattern.FindAllStringSubmatchIndex(text, -1) {
			if taken[m[0]] {
				continue
			}
			name := strings.TrimSpace(text[m[2]:m[3]])
			if !p.known[name] {
				continue
			}
			args := strings.TrimSpace(text[m[4]:m[5]])
			if !json.Valid([]byte(args)) {
				args = fixJSON(args)
				if !json.Valid([]byte(args)) {
					continue
				}
			}
			taken[m[0]] = true
			hits = append(hits, hit{at: m[0], call: ports.ToolCall{
				ID:   uuid.NewString(),
				Name: name,
				Args: json.RawMessage(args),
			}})
		}
	}

	// restore textual order across patterns
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].at < hits[j-1].at; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	calls := make([]ports.ToolCall, len(hits))
	for i, h := range hits {
		calls[i] = h.call
	}
	return calls
}

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKey   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// fixJSON repairs trailing commas, unquoted keys and single quotes.
func fixJSON(s string) string {
	s = trailingComma.ReplaceAllString(s, "$1")
	s = unquotedKey.ReplaceAllString(s, `$1"$2":`)
	return strings.ReplaceAll(s, "'", "\"")
}
