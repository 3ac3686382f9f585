package claude

import (
	"encoding/json"
	"strings"
)

const (
	eventTypeAssistant = "assistant"
	eventTypeResult    = "result"
	eventTypeToolUse   = "tool_use"
)

// StreamEvent is one line of Claude Code's stream-json output.
type StreamEvent struct {
	// Type is the event type ("system", "assistant", "user", "result").
	Type string `json:"type"`

	// Subtype qualifies result events ("success", "error_max_turns", ...).
	Subtype string `json:"subtype,omitempty"`

	Message *AssistantMessage `json:"message,omitempty"`

	// Result is the final reply text (type="result").
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	SessionID string `json:"session_id,omitempty"`

	Raw string `json:"-"`
}

// AssistantMessage is an assistant message in the stream.
type AssistantMessage struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
	Model   string         `json:"model,omitempty"`
}

// ContentBlock is a content block in an assistant message.
type ContentBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

// StreamParser parses Claude Code stream-json output.
type StreamParser struct {
	onEvent   func(StreamEvent)
	onError   func(error)
	lineCount int
}

// NewStreamParser creates a new parser with event callbacks.
func NewStreamParser(onEvent func(StreamEvent), onError func(error)) *StreamParser {
	return &StreamParser{
		onEvent: onEvent,
		onError: onError,
	}
}

// ParseLine parses a single line of stream-json output.
func (p *StreamParser) ParseLine(line string) *StreamEvent {
	p.lineCount++
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var event StreamEvent
	event.Raw = line

	if err := json.Unmarshal([]byte(line), &event); err != nil {
		var typeOnly struct {
			Type string `json:"type"`
		}
		if json.Unmarshal([]byte(line), &typeOnly) != nil {
			if p.onError != nil {
				p.onError(err)
			}
			return nil
		}
		event.Type = typeOnly.Type
	}

	if p.onEvent != nil {
		p.onEvent(event)
	}

	return &event
}

// LineCount returns the number of lines parsed.
func (p *StreamParser) LineCount() int {
	return p.lineCount
}

// FinalResult returns the last result event, if any.
func FinalResult(events []StreamEvent) *StreamEvent {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == eventTypeResult {
			return &events[i]
		}
	}
	return nil
}

// ExtractTextContent joins the text blocks of every assistant message.
func ExtractTextContent(events []StreamEvent) string {
	var parts []string
	for i := range events {
		if events[i].Message == nil {
			continue
		}
		for j := range events[i].Message.Content {
			block := &events[i].Message.Content[j]
			if block.Type == "text" && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ToolCallNames returns the names of tools called, in order.
func ToolCallNames(events []StreamEvent) []string {
	var names []string
	for i := range events {
		if events[i].Message == nil {
			continue
		}
		for j := range events[i].Message.Content {
			if events[i].Message.Content[j].Type == eventTypeToolUse {
				names = append(names, events[i].Message.Content[j].Name)
			}
		}
	}
	return names
}

// CountResponses counts assistant messages.
func CountResponses(events []StreamEvent) int {
	count := 0
	for i := range events {
		if events[i].Type == eventTypeAssistant && events[i].Message != nil {
			count++
		}
	}
	return count
}
