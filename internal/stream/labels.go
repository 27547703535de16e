// ABOUTME: Progress labels shown to users while tools run, keyed by tool name
// ABOUTME: Unknown tools fall back to "Running <name>..." and "Finished <name>."

package stream

import (
	"strings"

	"github.com/dolor/dolor-gateway/internal/agent"
)

// ToolLabels holds the user-facing text for one tool.
type ToolLabels struct {
	Call string
	Done string
}

// LabelTable maps tool names to labels.
type LabelTable map[string]ToolLabels

// DefaultLabels returns the built-in label table.
func DefaultLabels() LabelTable {
	return LabelTable{
		"list_intervals_activities": {
			Call: "Fetching your recent activities…",
			Done: "Activities ready.",
		},
		"get_intervals_activity_intervals": {
			Call: "Pulling detailed interval data…",
			Done: "Interval details ready.",
		},
		"list_intervals_chat_messages": {
			Call: "Loading your chat history…",
			Done: "Chat history loaded.",
		},
		"add_intervals_activity_comment": {
			Call: "Posting your note to the activity…",
			Done: "Note posted.",
		},
		"get_intervals_activity": {
			Call: "Loading the full activity details…",
			Done: "Activity details ready.",
		},
		"get_intervals_wellness_record": {
			Call: "Reviewing the wellness record for that day…",
			Done: "Wellness record ready.",
		},
		"list_intervals_wellness_records": {
			Call: "Fetching those wellness records…",
			Done: "Wellness history ready.",
		},
		"get_local_weather_forecast": {
			Call: "Checking the local weather forecast…",
			Done: "Forecast ready.",
		},
	}
}

// Progress maps a run event to a progress payload. ok is false for events
// that have no outward progress representation.
func (t LabelTable) Progress(ev agent.Event) (ProgressData, bool) {
	switch ev.Kind {
	case agent.EventToolUse:
		name := "tool"
		if ev.ToolUse != nil && ev.ToolUse.Name != "" {
			name = ev.ToolUse.Name
		}
		label := strings.TrimSpace(t[name].Call)
		if label == "" {
			label = "Running " + humanize(name) + "..."
		}
		return ProgressData{Phase: PhaseCalled, Label: label, Tool: name}, true
	case agent.EventToolResult:
		name := "tool"
		if ev.ToolResult != nil && ev.ToolResult.Name != "" {
			name = ev.ToolResult.Name
		}
		label := strings.TrimSpace(t[name].Done)
		if label == "" {
			label = "Finished " + humanize(name) + "."
		}
		return ProgressData{Phase: PhaseDone, Label: label, Tool: name}, true
	case agent.EventReasoning:
		return ProgressData{Phase: PhaseCalled, Label: "Analyzing your request..."}, true
	case agent.EventAgentUpdated:
		name := ev.AgentName
		if name == "" {
			name = "assistant"
		}
		return ProgressData{Phase: PhaseCalled, Label: "Using " + name + "..."}, true
	default:
		return ProgressData{}, false
	}
}

func humanize(toolName string) string {
	return strings.ReplaceAll(toolName, "_", " ")
}
