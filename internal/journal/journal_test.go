// internal/journal/journal_test.go
package journal

import (
	"fmt"
	"testing"
	"time"

	"themesync/internal/errors"
	"themesync/internal/pipeline"
	"themesync/internal/rate"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestJournal(t *testing.T) (*Journal, func()) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)

	j := New(db)
	cleanup := func() {
		j.Close()
	}
	return j, cleanup
}

func TestJournal_AppendAndGet(t *testing.T) {
	j, cleanup := setupTestJournal(t)
	defer cleanup()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{SessionID: "s1", Path: "/theme/a.liquid", Key: "a.liquid", Outcome: "succeeded", At: at}
	require.NoError(t, j.Append(rec))
	require.NotEmpty(t, rec.ID)

	got, err := j.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.liquid", got.Key)
	assert.True(t, at.Equal(got.At))

	_, err = j.Get("missing")
	assert.Error(t, err)
}

func TestJournal_ListNewestFirst(t *testing.T) {
	j, cleanup := setupTestJournal(t)
	defer cleanup()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(&Record{
			SessionID: "s1",
			Key:       fmt.Sprintf("k%d", i),
			At:        base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "k4", all[0].Key)
	assert.Equal(t, "k0", all[4].Key)

	limited, err := j.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "k4", limited[0].Key)
	assert.Equal(t, "k3", limited[1].Key)
}

func TestJournal_Failures(t *testing.T) {
	j, cleanup := setupTestJournal(t)
	defer cleanup()

	require.NoError(t, j.Append(&Record{SessionID: "s1", Key: "ok", Outcome: "succeeded"}))
	require.NoError(t, j.Append(&Record{SessionID: "s1", Key: "bad", Outcome: "failed", Message: "boom"}))
	require.NoError(t, j.Append(&Record{SessionID: "s2", Key: "other", Outcome: "failed", Message: "boom"}))

	failures, err := j.Failures("s1")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "bad", failures[0].Key)
}

func TestRecorder_ItemFinished(t *testing.T) {
	j, cleanup := setupTestJournal(t)
	defer cleanup()

	rec := j.Recorder("session-1", nil)
	var _ pipeline.Observer = rec

	snap := pipeline.Snapshot{SessionID: "session-1", ThemeID: "7"}
	rec.ItemFinished(pipeline.Result{
		Event:   pipeline.ContentEvent("/theme/assets/a.css", []byte("body{}")),
		Key:     "assets/a.css",
		Op:      rate.OpUpdate,
		Outcome: pipeline.OutcomeSucceeded,
	}, snap)
	rec.ItemFinished(pipeline.Result{
		Event:   pipeline.DeletionEvent("/theme/assets/b.css"),
		Key:     "assets/b.css",
		Op:      rate.OpDelete,
		Outcome: pipeline.OutcomeFailed,
		Err:     errors.Remote(errors.ErrorTypeInvalidRequest, "not found", 404, nil),
	}, snap)
	require.NoError(t, rec.Err())

	records, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byKey := map[string]*Record{}
	for _, r := range records {
		byKey[r.Key] = r
	}
	assert.Equal(t, "content", byKey["assets/a.css"].Kind)
	assert.Equal(t, "succeeded", byKey["assets/a.css"].Outcome)
	assert.Equal(t, "7", byKey["assets/a.css"].ThemeID)
	assert.Empty(t, byKey["assets/a.css"].Message)

	assert.Equal(t, "deletion", byKey["assets/b.css"].Kind)
	assert.Equal(t, "failed", byKey["assets/b.css"].Outcome)
	assert.Contains(t, byKey["assets/b.css"].Message, "not found")

	failures, err := j.Failures("session-1")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "assets/b.css", failures[0].Key)
}

func TestJournal_Prune(t *testing.T) {
	j, cleanup := setupTestJournal(t)
	defer cleanup()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(&Record{
			SessionID: "s1",
			Key:       fmt.Sprintf("k%d", i),
			At:        base.Add(time.Duration(i) * time.Second),
		}))
	}

	removed, err := j.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	records, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "k4", records[0].Key)
	assert.Equal(t, "k3", records[1].Key)

	removed, err = j.Prune(2)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = j.Prune(-1)
	assert.Equal(t, errors.ErrorTypeValidation, errors.TypeOf(err))

	removed, err = j.Prune(0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	records, err = j.List(0)
	require.NoError(t, err)
	assert.Empty(t, records)
}
