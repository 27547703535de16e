// ABOUTME: HistorySanitizer: drops large tool payloads and dangling reasoning, strips reasoning refs
// ABOUTME: Pure and idempotent; payload walks guard against cycles by pointer identity

package history

import (
	"reflect"
	"strings"
)

// DefaultLargeTools are the external tools whose payloads are too large to
// replay on every turn. Their results are refetched on demand instead.
var DefaultLargeTools = []string{
	"list_intervals_activities",
	"list_intervals_events",
	"get_intervals_activity",
	"get_intervals_activity_intervals",
	"list_intervals_chat_messages",
	"list_intervals_wellness_records",
	"update_intervals_event",
	"create_intervals_event",
}

// Sanitizer cleans an item list before it is replayed or persisted.
// The zero value filters no large tools but still applies the reasoning steps.
type Sanitizer struct {
	large map[string]struct{}
}

// NewSanitizer returns a Sanitizer that drops items mentioning any of the
// given tool names.
func NewSanitizer(largeTools ...string) *Sanitizer {
	s := &Sanitizer{large: make(map[string]struct{}, len(largeTools))}
	for _, name := range largeTools {
		if name != "" {
			s.large[name] = struct{}{}
		}
	}
	return s
}

// Sanitize applies, in order: large-payload filtering, dangling-reasoning
// filtering and reasoning-key stripping. It never fails and never reorders.
// A nil Sanitizer behaves like the zero value.
func (s *Sanitizer) Sanitize(items []Item) []Item {
	kept := make([]Item, 0, len(items))
	for _, it := range items {
		if it == nil || s.mentionsLargeTool(it) {
			continue
		}
		kept = append(kept, it)
	}

	out := make([]Item, 0, len(kept))
	for i, it := range kept {
		if it.Kind() == KindReasoning {
			if i+1 >= len(kept) || kept[i+1].Kind() != KindMessage {
				continue
			}
		}
		out = append(out, stripReasoningRefs(it))
	}
	return out
}

// mentionsLargeTool reports whether any string value in the item's payload
// equals a configured large tool name.
func (s *Sanitizer) mentionsLargeTool(it Item) bool {
	if s == nil || len(s.large) == 0 {
		return false
	}
	sc := &scanner{names: s.large, seen: make(map[identity]struct{})}
	switch v := it.(type) {
	case Message:
		if sc.match(string(v.Role)) || sc.match(v.Content) {
			return true
		}
	case ToolCall:
		if sc.match(v.ID) || sc.match(v.Name) || sc.match(v.Arguments) {
			return true
		}
	case ToolOutput:
		if sc.match(v.CallID) || sc.match(v.Output) {
			return true
		}
	case Reasoning:
		if sc.match(v.Content) {
			return true
		}
	}
	return sc.contains(reflect.ValueOf(it.extra()))
}

// identity is a reference value's address. Slices also key on length since
// two slices can share a backing array.
type identity struct {
	kind reflect.Kind
	ptr  uintptr
	len  int
}

func identityOf(v reflect.Value) identity {
	id := identity{kind: v.Kind(), ptr: v.Pointer()}
	if v.Kind() == reflect.Slice {
		id.len = v.Len()
	}
	return id
}

type scanner struct {
	names map[string]struct{}
	seen  map[identity]struct{}
}

func (sc *scanner) match(s string) bool {
	_, ok := sc.names[s]
	return ok
}

// visit records a reference value and reports whether it was new.
func (sc *scanner) visit(v reflect.Value) bool {
	id := identityOf(v)
	if _, ok := sc.seen[id]; ok {
		return false
	}
	sc.seen[id] = struct{}{}
	return true
}

func (sc *scanner) contains(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return sc.match(v.String())
	case reflect.Interface:
		if v.IsNil() {
			return false
		}
		return sc.contains(v.Elem())
	case reflect.Pointer:
		if v.IsNil() || !sc.visit(v) {
			return false
		}
		return sc.contains(v.Elem())
	case reflect.Map:
		if v.IsNil() || !sc.visit(v) {
			return false
		}
		iter := v.MapRange()
		for iter.Next() {
			if sc.contains(iter.Value()) {
				return true
			}
		}
	case reflect.Slice:
		if v.IsNil() || !sc.visit(v) {
			return false
		}
		fallthrough
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if sc.contains(v.Index(i)) {
				return true
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if sc.contains(v.Field(i)) {
				return true
			}
		}
	}
	return false
}

// stripReasoningRefs returns a copy of the item whose Extra no longer holds
// keys mentioning reasoning. Pairing fields are typed and never touched.
func stripReasoningRefs(it Item) Item {
	extra := it.extra()
	if len(extra) == 0 {
		return it.withExtra(nil)
	}
	st := &stripper{memo: make(map[identity]reflect.Value)}
	cloned, _ := st.clone(reflect.ValueOf(extra)).Interface().(map[string]any)
	if it.Kind() == KindMessage {
		// Message ids can point at reasoning items that were dropped.
		delete(cloned, "id")
	}
	if len(cloned) == 0 {
		cloned = nil
	}
	return it.withExtra(cloned)
}

func isReasoningKey(k string) bool {
	return strings.Contains(strings.ToLower(k), "reasoning")
}

// stripper deep-copies maps, slices and pointers. A value reached twice maps
// to the same copy, so cyclic payloads stay cyclic and the walk terminates.
type stripper struct {
	memo map[identity]reflect.Value
}

func (st *stripper) clone(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(st.clone(v.Elem()))
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		id := identityOf(v)
		if done, ok := st.memo[id]; ok {
			return done
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		st.memo[id] = out
		iter := v.MapRange()
		for iter.Next() {
			k := iter.Key()
			if k.Kind() == reflect.String && isReasoningKey(k.String()) {
				continue
			}
			out.SetMapIndex(k, st.clone(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		id := identityOf(v)
		if done, ok := st.memo[id]; ok {
			return done
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		st.memo[id] = out
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(st.clone(v.Index(i)))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		id := identityOf(v)
		if done, ok := st.memo[id]; ok {
			return done
		}
		out := reflect.New(v.Type().Elem())
		st.memo[id] = out
		out.Elem().Set(st.clone(v.Elem()))
		return out
	default:
		return v
	}
}
