// internal/pipeline/session.go
package pipeline

import (
	"sync"

	"themesync/internal/errors"

	"github.com/google/uuid"
)

// ItemError records one failed item.
type ItemError struct {
	Path    string           `json:"path"`
	Key     string           `json:"key"`
	Type    errors.ErrorType `json:"type"`
	Message string           `json:"message"`
}

// Snapshot is a point-in-time copy of session statistics.
type Snapshot struct {
	SessionID string
	ThemeID   string
	BasePath  string
	// Attempted counts items that passed classification, per kind.
	Attempted map[Kind]int
	// InFlight counts items between admission and completion.
	InFlight  map[Kind]int
	Succeeded map[Kind]int
	Errors    map[Kind][]ItemError
	Skipped   int
	Processed int
}

// ErrorCount is the total number of failed items.
func (s Snapshot) ErrorCount() int {
	n := 0
	for _, errs := range s.Errors {
		n += len(errs)
	}
	return n
}

// Session holds the statistics of one pipeline run. Only the pipeline writes to it.
type Session struct {
	id       string
	themeID  string
	basePath string

	mu        sync.RWMutex
	attempted map[Kind]int
	inFlight  map[Kind]int
	succeeded map[Kind]int
	errors    map[Kind][]ItemError
	skipped   int
	processed int
}

func NewSession(themeID, basePath string) *Session {
	return &Session{
		id:        uuid.New().String(),
		themeID:   themeID,
		basePath:  basePath,
		attempted: make(map[Kind]int),
		inFlight:  make(map[Kind]int),
		succeeded: make(map[Kind]int),
		errors:    make(map[Kind][]ItemError),
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) ThemeID() string  { return s.themeID }
func (s *Session) BasePath() string { return s.basePath }

func (s *Session) begin(k Kind) {
	s.mu.Lock()
	s.attempted[k]++
	s.inFlight[k]++
	s.mu.Unlock()
}

func (s *Session) succeed(k Kind) {
	s.mu.Lock()
	s.inFlight[k]--
	s.succeeded[k]++
	s.processed++
	s.mu.Unlock()
}

func (s *Session) fail(k Kind, e ItemError) {
	s.mu.Lock()
	s.inFlight[k]--
	s.errors[k] = append(s.errors[k], e)
	s.processed++
	s.mu.Unlock()
}

// abort undoes begin for an item torn down before its remote call finished.
func (s *Session) abort(k Kind) {
	s.mu.Lock()
	s.attempted[k]--
	s.inFlight[k]--
	s.mu.Unlock()
}

func (s *Session) skip() {
	s.mu.Lock()
	s.skipped++
	s.processed++
	s.mu.Unlock()
}

// Snapshot copies the current statistics.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		SessionID: s.id,
		ThemeID:   s.themeID,
		BasePath:  s.basePath,
		Attempted: make(map[Kind]int, len(Kinds)),
		InFlight:  make(map[Kind]int, len(Kinds)),
		Succeeded: make(map[Kind]int, len(Kinds)),
		Errors:    make(map[Kind][]ItemError, len(s.errors)),
		Skipped:   s.skipped,
		Processed: s.processed,
	}
	for _, k := range Kinds {
		snap.Attempted[k] = s.attempted[k]
		snap.InFlight[k] = s.inFlight[k]
		snap.Succeeded[k] = s.succeeded[k]
	}
	for k, errs := range s.errors {
		snap.Errors[k] = append([]ItemError(nil), errs...)
	}
	return snap
}
