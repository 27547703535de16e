// ABOUTME: Tests for retention, tool-output repair and invariant checking
// ABOUTME: Includes the full pipeline over windows that split call/output pairs

package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetain(t *testing.T) {
	items := []Item{UserMessage("1"), UserMessage("2"), UserMessage("3")}

	assert.Equal(t, items, Retain(items, 0))
	assert.Equal(t, items, Retain(items, -1))
	assert.Equal(t, items, Retain(items, 5))
	assert.Equal(t, []Item{UserMessage("2"), UserMessage("3")}, Retain(items, 2))
	assert.Equal(t, []Item{UserMessage("3")}, Retain(items, 1))
}

func TestRepairToolPairing_DropsOrphans(t *testing.T) {
	report := RepairToolPairing([]Item{
		ToolOutput{CallID: "call_1", Output: "stale"},
		ToolCall{ID: "call_2", Name: "get_weather"},
		ToolOutput{CallID: "call_2", Output: "sunny"},
		ToolOutput{CallID: "call_3", Output: "unknown"},
		AssistantMessage("done"),
	})

	assert.Equal(t, 2, report.DroppedOrphans)
	assert.Equal(t, []Item{
		ToolCall{ID: "call_2", Name: "get_weather"},
		ToolOutput{CallID: "call_2", Output: "sunny"},
		AssistantMessage("done"),
	}, report.Items)
}

func TestRepairToolPairing_OutputBeforeCallIsOrphan(t *testing.T) {
	report := RepairToolPairing([]Item{
		ToolOutput{CallID: "call_1"},
		ToolCall{ID: "call_1"},
	})

	assert.Equal(t, 1, report.DroppedOrphans)
	assert.Equal(t, []Item{ToolCall{ID: "call_1"}}, report.Items)
}

func TestRepairToolPairing_KeepsCallsWithoutOutputs(t *testing.T) {
	in := []Item{UserMessage("hi"), ToolCall{ID: "call_1", Name: "x"}}
	report := RepairToolPairing(in)

	assert.Zero(t, report.DroppedOrphans)
	assert.Equal(t, in, report.Items)
}

func TestPipeline_WindowSplitsPair(t *testing.T) {
	s := NewSanitizer(DefaultLargeTools...)
	in := []Item{
		ToolCall{ID: "call_1", Name: "get_weather"},
		ToolOutput{CallID: "call_1", Output: "sunny"},
		AssistantMessage("done"),
	}

	got := RepairToolPairing(Retain(s.Sanitize(in), 2)).Items

	assert.Equal(t, []Item{AssistantMessage("done")}, got)
	require.NoError(t, Check(got, 2))
}

func TestPipeline_OutputsSurviveWhileCallInWindow(t *testing.T) {
	s := NewSanitizer(DefaultLargeTools...)
	var in []Item
	for i := 0; i < 10; i++ {
		in = append(in, UserMessage("ping"))
	}
	in = append(in,
		ToolCall{ID: "call_9", Name: "get_weather"},
		ToolOutput{CallID: "call_9", Output: "rain"},
		AssistantMessage("bring a jacket"),
	)

	got := RepairToolPairing(Retain(s.Sanitize(in), 4)).Items

	require.Len(t, got, 4)
	assert.Equal(t, ToolOutput{CallID: "call_9", Output: "rain"}, got[2])
	require.NoError(t, Check(got, 4))
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		items   []Item
		max     int
		wantErr bool
	}{
		{name: "empty", items: nil, max: 2},
		{name: "valid pairing", items: []Item{ToolCall{ID: "a"}, ToolOutput{CallID: "a"}}, max: 0},
		{name: "reasoning then message", items: []Item{Reasoning{}, AssistantMessage("x")}, max: 0},
		{name: "too many", items: []Item{UserMessage("a"), UserMessage("b")}, max: 1, wantErr: true},
		{name: "orphan output", items: []Item{ToolOutput{CallID: "a"}}, wantErr: true},
		{name: "trailing reasoning", items: []Item{UserMessage("a"), Reasoning{}}, wantErr: true},
		{name: "reasoning before call", items: []Item{Reasoning{}, ToolCall{ID: "a"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.items, tt.max)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvariantViolation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
