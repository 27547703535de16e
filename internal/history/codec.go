// ABOUTME: JSON codec for conversation items using a "type" tag
// ABOUTME: Unreserved keys round-trip through Extra so opaque attributes survive storage

package history

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when decoding an item with an unrecognized type tag.
var ErrUnknownKind = errors.New("unknown item type")

// reserved lists the keys owned by each variant's typed fields.
var reserved = map[Kind][]string{
	KindMessage:    {"type", "role", "content"},
	KindToolCall:   {"type", "id", "name", "arguments"},
	KindToolOutput: {"type", "call_id", "output"},
	KindReasoning:  {"type", "content"},
}

// Items is a list of conversation items with a JSON encoding.
type Items []Item

// MarshalJSON encodes the list as an array of tagged objects.
func (l Items) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for i, it := range l {
		raw, err := MarshalItem(it)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an array of tagged objects.
func (l *Items) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	items := make(Items, 0, len(raws))
	for i, raw := range raws {
		it, err := UnmarshalItem(raw)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, it)
	}
	*l = items
	return nil
}

// MarshalItem encodes a single item.
func MarshalItem(it Item) ([]byte, error) {
	obj := make(map[string]any, len(it.extra())+4)
	for k, v := range it.extra() {
		obj[k] = v
	}
	obj["type"] = string(it.Kind())
	switch v := it.(type) {
	case Message:
		obj["role"] = string(v.Role)
		obj["content"] = v.Content
	case ToolCall:
		obj["id"] = v.ID
		obj["name"] = v.Name
		obj["arguments"] = v.Arguments
	case ToolOutput:
		obj["call_id"] = v.CallID
		obj["output"] = v.Output
	case Reasoning:
		obj["content"] = v.Content
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, it)
	}
	return json.Marshal(obj)
}

// UnmarshalItem decodes a single tagged object.
func UnmarshalItem(data []byte) (Item, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	kind, _ := obj["type"].(string)
	str := func(key string) string {
		s, _ := obj[key].(string)
		return s
	}

	var it Item
	switch Kind(kind) {
	case KindMessage:
		it = Message{Role: Role(str("role")), Content: str("content")}
	case KindToolCall:
		it = ToolCall{ID: str("id"), Name: str("name"), Arguments: str("arguments")}
	case KindToolOutput:
		it = ToolOutput{CallID: str("call_id"), Output: str("output")}
	case KindReasoning:
		it = Reasoning{Content: str("content")}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	for _, k := range reserved[Kind(kind)] {
		delete(obj, k)
	}
	if len(obj) > 0 {
		it = it.withExtra(obj)
	}
	return it, nil
}
