package inference

import "fmt"

type ContentBlockType string

const (
	ContentBlockText       ContentBlockType = "text"
	ContentBlockToolCall   ContentBlockType = "tool_call"
	ContentBlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one element of a message or of a model output. Type selects
// which of the remaining fields are meaningful.
type ContentBlock struct {
	Type      ContentBlockType `json:"type"`
	Text      string           `json:"text,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Arguments string           `json:"arguments,omitempty"`
	Result    string           `json:"result,omitempty"`
}

func Text(text string) ContentBlock {
	return ContentBlock{Type: ContentBlockText, Text: text}
}

func ToolCall(id, name, arguments string) ContentBlock {
	return ContentBlock{Type: ContentBlockToolCall, ID: id, Name: name, Arguments: arguments}
}

func ToolResult(id, name, result string) ContentBlock {
	return ContentBlock{Type: ContentBlockToolResult, ID: id, Name: name, Result: result}
}

func (b ContentBlock) validate() error {
	switch b.Type {
	case ContentBlockText:
		return nil
	case ContentBlockToolCall, ContentBlockToolResult:
		if b.ID == "" {
			return fmt.Errorf("%s block requires an id", b.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown content block type %q", b.Type)
	}
}
