// internal/journal/journal.go
package journal

import (
	"fmt"
	"sync"
	"time"

	"themesync/internal/errors"
	"themesync/internal/pipeline"
	"themesync/internal/rate"
	"themesync/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const prefix = "record"

// Record is the stored outcome of one processed item. Records are history only; a new
// session never reads them back.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ThemeID   string    `json:"theme_id"`
	Path      string    `json:"path"`
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

func (r *Record) GetID() string {
	return r.ID
}

// Journal persists records in badger.
type Journal struct {
	db    *badger.DB
	store *storage.BadgerStore
	now   func() time.Time
}

// Open opens (or creates) the journal database in dir.
func Open(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return New(db), nil
}

// New wraps an already open database.
func New(db *badger.DB) *Journal {
	return &Journal{
		db:    db,
		store: storage.NewBadgerStore(db, prefix),
		now:   time.Now,
	}
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores r, assigning an id ordered by time.
func (j *Journal) Append(r *Record) error {
	if r.At.IsZero() {
		r.At = j.now()
	}
	r.ID = fmt.Sprintf("%020d-%s", r.At.UnixNano(), uuid.New().String())
	return j.store.Create(r)
}

func (j *Journal) Get(id string) (*Record, error) {
	var r Record
	if err := j.store.Get(id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (j *Journal) List(limit int) ([]*Record, error) {
	return j.collect(limit, func(*Record) bool { return true })
}

// Failures returns the failed records of one session, newest first.
func (j *Journal) Failures(sessionID string) ([]*Record, error) {
	return j.collect(0, func(r *Record) bool {
		return r.SessionID == sessionID && r.Message != ""
	})
}

// Prune drops all but the newest keep records and reports how many went.
func (j *Journal) Prune(keep int) (int, error) {
	if keep < 0 {
		return 0, errors.ValidationError("keep must not be negative", nil)
	}

	var stale []string
	err := j.store.Each(true, func(id string, _ []byte) (bool, error) {
		if keep > 0 {
			keep--
			return true, nil
		}
		stale = append(stale, id)
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if err := j.store.Delete(stale...); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (j *Journal) collect(limit int, keep func(*Record) bool) ([]*Record, error) {
	var records []*Record
	err := j.store.Each(true, func(id string, val []byte) (bool, error) {
		var r Record
		if err := json.Unmarshal(val, &r); err != nil {
			return false, fmt.Errorf("decoding record %s: %w", id, err)
		}
		if keep(&r) {
			records = append(records, &r)
		}
		return limit <= 0 || len(records) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Recorder is a pipeline observer that appends one record per finished item.
type Recorder struct {
	journal   *Journal
	sessionID string
	logger    *zap.Logger

	mu  sync.Mutex
	err error
}

func (j *Journal) Recorder(sessionID string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{journal: j, sessionID: sessionID, logger: logger}
}

func (r *Recorder) ItemStarted(pipeline.Event, string, rate.Op, time.Duration) {}

func (r *Recorder) ItemFinished(res pipeline.Result, snap pipeline.Snapshot) {
	rec := &Record{
		SessionID: r.sessionID,
		ThemeID:   snap.ThemeID,
		Path:      res.Event.Path,
		Key:       res.Key,
		Kind:      res.Event.Kind.String(),
		Outcome:   res.Outcome.String(),
		Reason:    res.Reason,
	}
	if res.Err != nil {
		rec.Message = res.Err.Error()
	}

	if err := r.journal.Append(rec); err != nil {
		// A broken journal must not stop the sync.
		r.logger.Error("writing journal record", zap.String("path", rec.Path), zap.Error(err))
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}
}

// Err returns the last write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
