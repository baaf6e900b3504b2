package harness

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
)

const systemPreamble = "You are an AI PowerPoint and Excel agent. You can view and modify PowerPoint slides and Excel sheets."

// PromptBuilder renders the system turn and converts the log into provider input.
type PromptBuilder struct {
	tools []ports.ToolSpec
}

func NewPromptBuilder(tools []ports.ToolSpec) *PromptBuilder {
	return &PromptBuilder{tools: tools}
}

// SystemPrompt renders turn 0 from the memory snapshot and the name→path mapping.
func (b *PromptBuilder) SystemPrompt(snapshot conversation.MemorySnapshot, mapping map[string]string) string {
	memory, err := snapshot.MarshalMemory()
	if err != nil {
		memory = []byte(`{"Memory": {}}`)
	}
	if mapping == nil {
		mapping = map[string]string{}
	}
	paths, err := conversation.IndentJSON(mapping)
	if err != nil {
		paths = []byte(`{}`)
	}

	var sb strings.Builder
	sb.WriteString(systemPreamble)
	sb.WriteString("\n\nAvailable files:\n")
	sb.Write(memory)
	sb.WriteString("\n\nFile paths:\n")
	sb.Write(paths)
	sb.WriteString("\n\nYou have access to tools to:\n")
	for i, t := range b.tools {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, t.Description, t.Name)
	}
	sb.WriteString("\nAlways examine file content before making modifications.")
	return sb.String()
}

// Build converts the log into a provider request. Turn 0 becomes the system
// text; the remaining turns become ordered chat messages.
func (b *PromptBuilder) Build(turns []conversation.Turn, meta map[string]string) ports.PromptInput {
	// Normalize newlines to keep prompts stable across platforms
	norm := func(s string) string { return strings.ReplaceAll(s, "\r\n", "\n") }

	in := ports.PromptInput{Tools: b.tools, Meta: meta}
	for i, t := range turns {
		if i == 0 && t.Role == conversation.RoleSystem {
			in.System = norm(t.Content)
			continue
		}
		msg := ports.PromptMessage{Role: string(t.Role), Content: norm(t.Content)}
		switch t.Role {
		case conversation.RoleAssistant:
			for _, r := range t.ToolRequests {
				msg.ToolCalls = append(msg.ToolCalls, ports.ToolCall{ID: r.ID, Name: r.Name, Args: r.Arguments})
			}
		case conversation.RoleTool:
			msg.ToolCallID = t.ToolRequestID
			msg.Name = t.ToolName
		}
		in.Messages = append(in.Messages, msg)
	}
	return in
}
