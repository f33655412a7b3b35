package conversation

import (
	"log/slog"
	"sync"

	"github.com/ashureev/agentlink/internal/domain"
)

// Change describes one committed batch.
type Change struct {
	// Cursor is the cursor after the batch.
	Cursor domain.Cursor
	// From is the index of the first entry that was mutated or appended.
	From int
	// Len is the log length after the batch.
	Len int
	// Events are the raw events of the batch, in order.
	Events []domain.Event
}

// Observer is notified after a batch is committed. Observers run on the
// stream goroutine; keep them fast.
type Observer func(Change)

// State is the conversation log of one agent plus its stream cursor.
// Apply is called by a single stream goroutine; the read API is safe for
// concurrent use and returns copies.
type State struct {
	mu        sync.RWMutex
	entries   []Entry
	cursor    domain.Cursor
	observers map[int]Observer
	nextObs   int
	logger    *slog.Logger
}

// NewState creates an empty log positioned at from.
func NewState(from domain.Cursor, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		cursor:    from,
		observers: make(map[int]Observer),
		logger:    logger,
	}
}

// Apply folds a batch into the log and advances the cursor to the batch
// position. Readers observe either none or all of the batch. A batch that
// carries events but does not move past the current cursor is a redelivery
// and is skipped.
func (s *State) Apply(batch domain.Batch) (domain.Cursor, error) {
	s.mu.RLock()
	cursor := s.cursor
	base := len(s.entries)
	var tail []Entry
	if base > 0 {
		base--
		tail = append(tail, s.entries[base])
	}
	s.mu.RUnlock()

	if len(batch.Events) > 0 && cursor > domain.StartOfStream && batch.Position <= cursor {
		s.logger.Debug("Skipping redelivered batch",
			"position", batch.Position,
			"cursor", cursor,
			"events", len(batch.Events),
		)
		return cursor, nil
	}

	folded, touched := fold(tail, batch.Events)
	changed := touched < len(folded)

	s.mu.Lock()
	if changed {
		s.entries = append(s.entries[:base], folded...)
	}
	if batch.Position > s.cursor {
		s.cursor = batch.Position
		changed = true
	}
	change := Change{
		Cursor: s.cursor,
		From:   base + touched,
		Len:    len(s.entries),
		Events: batch.Events,
	}
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	if changed {
		for _, o := range observers {
			o(change)
		}
	}
	return change.Cursor, nil
}

// Snapshot returns a copy of the log and the cursor it reflects.
func (s *State) Snapshot() ([]Entry, domain.Cursor) {
	return s.Since(0)
}

// Since returns a copy of the entries from index on. Entry index-1 may have
// grown since a previous read, so renderers polling incrementally should
// re-read from their last length minus one.
func (s *State) Since(index int) ([]Entry, domain.Cursor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 {
		index = 0
	}
	if index > len(s.entries) {
		index = len(s.entries)
	}
	out := make([]Entry, len(s.entries)-index)
	copy(out, s.entries[index:])
	return out, s.cursor
}

// Cursor returns the last applied cursor.
func (s *State) Cursor() domain.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// Len returns the number of entries.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// AddObserver registers o and returns a function that removes it.
func (s *State) AddObserver(o Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = o
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}
