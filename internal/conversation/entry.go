// Package conversation reconstructs an agent conversation from its event
// stream.
//
// The log is an ordered sequence of entries. Streaming text fragments are
// folded into the entry they continue, input.handled outcomes are routed
// through the error/info channels, and everything else is appended as is.
package conversation

import "github.com/ashureev/agentlink/internal/domain"

// Entry is one record of the conversation log: either a raw event or one
// synthesized from input.handled.
type Entry struct {
	domain.Event
	Synthetic bool `json:"synthetic,omitempty"`
}

// mergeable reports whether e may be folded into a preceding entry.
func (e Entry) mergeable() bool {
	switch e.Type {
	case domain.EventOutputChat, domain.EventOutputReasoning:
		return true
	}
	return e.Synthetic
}

// tryMergeInto appends e to prev when e continues prev. prev keeps its
// position; its message grows and its timestamp becomes e's.
func (e Entry) tryMergeInto(prev *Entry) bool {
	if prev == nil || !e.mergeable() || prev.Type != e.Type {
		return false
	}
	prev.Message += e.Message
	prev.Timestamp = e.Timestamp
	return true
}

// entryFor maps an event to the entry it contributes, if any.
func entryFor(ev domain.Event) (Entry, bool) {
	if !ev.Type.Known() {
		return Entry{}, false
	}
	if ev.Type != domain.EventInputHandled {
		return Entry{Event: ev}, true
	}

	var kind domain.EventType
	switch ev.Status {
	case domain.HandledOK:
		return Entry{Event: ev}, true
	case domain.HandledError:
		kind = domain.EventOutputError
	case domain.HandledCancelled:
		kind = domain.EventOutputInfo
	default:
		return Entry{}, false
	}
	return Entry{
		Event: domain.Event{
			Type:      kind,
			Timestamp: ev.Timestamp,
			Message:   ev.Message + "\n",
		},
		Synthetic: true,
	}, true
}

// Fold applies events to log in order and returns the resulting log. The
// last element of log may be mutated in place.
func Fold(log []Entry, events []domain.Event) []Entry {
	out, _ := fold(log, events)
	return out
}

// fold is Fold that also reports the lowest index it touched, or len(log)
// when nothing changed.
func fold(log []Entry, events []domain.Event) ([]Entry, int) {
	touched := len(log)
	for _, ev := range events {
		entry, ok := entryFor(ev)
		if !ok {
			continue
		}
		if n := len(log); n > 0 && entry.tryMergeInto(&log[n-1]) {
			touched = min(touched, n-1)
			continue
		}
		log = append(log, entry)
		touched = min(touched, len(log)-1)
	}
	return log, touched
}
