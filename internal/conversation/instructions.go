// ABOUTME: System instructions sent at the start of a chat and whenever its subject changes
// ABOUTME: SubjectResolver maps a caller identity to the linked athlete the instruction names

package conversation

import (
	"context"
	"fmt"
	"strings"
)

// GreetingPrompt asks the agent to open a chat.
const GreetingPrompt = "Start the session with a concise, encouraging greeting and invite the athlete to share what they need help with today."

// responseRules are appended to every instruction.
var responseRules = []string{
	"If the user did not ask for a workout, do not suggest a workout.",
	`Never add follow-up solicitation language like "if you want...", "let me know if...", "I can also...", or "would you like...".`,
	"Do not end with optional offers or invitations unless the user explicitly asks for options.",
	"Do not ask follow-up questions unless needed to fill missing required information.",
}

// InstructionFunc builds the system instruction for a bound subject. An
// empty subject means no identity is linked.
type InstructionFunc func(subject string) string

// DefaultInstruction tells the agent which athlete it may query.
func DefaultInstruction(subject string) string {
	var b strings.Builder
	if subject != "" {
		fmt.Fprintf(&b, "You can query Intervals.icu for athlete %s. ", subject)
		fmt.Fprintf(&b, "When calling list_intervals_activities always pass athleteId %q along with explicit oldest/newest dates provided by the athlete.", subject)
	} else {
		b.WriteString("Ask the athlete for their Intervals.icu athlete ID and desired oldest/newest dates before calling list_intervals_activities.")
	}
	for _, rule := range responseRules {
		b.WriteString("\n")
		b.WriteString(rule)
	}
	return b.String()
}

// SubjectResolver looks up the subject linked to a caller. It returns an
// empty string when nothing is linked.
type SubjectResolver interface {
	Subject(ctx context.Context, userID string) (string, error)
}

// StaticSubjects resolves subjects from a fixed user-to-subject map.
type StaticSubjects map[string]string

// Subject implements SubjectResolver.
func (s StaticSubjects) Subject(_ context.Context, userID string) (string, error) {
	return s[userID], nil
}
