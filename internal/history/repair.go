// ABOUTME: Retention window and tool-output repair pass for stored history
// ABOUTME: Repair drops outputs whose call fell outside the window; it never fabricates items

package history

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation is returned by Check when a list could not have come
// out of the sanitize, retain and repair pipeline.
var ErrInvariantViolation = errors.New("history invariant violation")

// Retain keeps the most recent max items. A max of zero or less keeps
// everything.
func Retain(items []Item, max int) []Item {
	if max <= 0 || len(items) <= max {
		return items
	}
	return items[len(items)-max:]
}

// RepairReport describes what a repair pass changed.
type RepairReport struct {
	Items          []Item
	DroppedOrphans int
}

// RepairToolPairing scans forward once and drops every ToolOutput whose
// CallID was not introduced by an earlier ToolCall in the same list.
func RepairToolPairing(items []Item) RepairReport {
	report := RepairReport{Items: make([]Item, 0, len(items))}
	calls := make(map[string]struct{})
	for _, it := range items {
		switch v := it.(type) {
		case ToolCall:
			calls[v.ID] = struct{}{}
		case ToolOutput:
			if _, ok := calls[v.CallID]; !ok {
				report.DroppedOrphans++
				continue
			}
		case Message, Reasoning:
		}
		report.Items = append(report.Items, it)
	}
	return report
}

// Check verifies the stored-history invariants: outputs resolve to an
// earlier call, reasoning is immediately followed by a message, and the list
// fits in max items (when max > 0).
func Check(items []Item, max int) error {
	if max > 0 && len(items) > max {
		return fmt.Errorf("%w: %d items exceeds window of %d", ErrInvariantViolation, len(items), max)
	}
	calls := make(map[string]struct{})
	for i, it := range items {
		switch v := it.(type) {
		case ToolCall:
			calls[v.ID] = struct{}{}
		case ToolOutput:
			if _, ok := calls[v.CallID]; !ok {
				return fmt.Errorf("%w: orphaned tool output %q at %d", ErrInvariantViolation, v.CallID, i)
			}
		case Reasoning:
			if i+1 >= len(items) || items[i+1].Kind() != KindMessage {
				return fmt.Errorf("%w: dangling reasoning at %d", ErrInvariantViolation, i)
			}
		case Message:
		}
	}
	return nil
}
