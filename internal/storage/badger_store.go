// internal/storage/badger_store.go
package storage

import (
	"fmt"
	"strings"

	"themesync/internal/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Entity represents any storable entity with an ID
type Entity interface {
	GetID() string
}

// BadgerStore provides generic storage operations under a key prefix.
// Keys sort lexically, so IDs that embed a fixed-width timestamp list in time order.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: prefix,
	}
}

func (s *BadgerStore) makeKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", s.prefix, id))
}

func (s *BadgerStore) stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), fmt.Sprintf("%s:", s.prefix))
}

// Create stores entity under its id and refuses to overwrite an existing one.
func (s *BadgerStore) Create(entity Entity) error {
	id := entity.GetID()
	if id == "" {
		return errors.ValidationError("entity id is required", nil)
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", s.prefix, id, err)
	}

	key := s.makeKey(id)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return errors.ValidationError(s.prefix+" already exists", map[string]string{"id": id})
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, data)
	})
}

// Get decodes the entity stored under id into entity.
func (s *BadgerStore) Get(id string, entity Entity) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, entity)
		})
	})
	if err == badger.ErrKeyNotFound {
		return errors.NotFound(s.prefix + " not found: " + id)
	}
	return err
}

// Delete removes ids in one write batch. Ids that are not stored are ignored.
func (s *BadgerStore) Delete(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		if err := wb.Delete(s.makeKey(id)); err != nil {
			return fmt.Errorf("deleting %s %s: %w", s.prefix, id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("deleting %d %s entries: %w", len(ids), s.prefix, err)
	}
	return nil
}

// Each calls fn with the id and raw value of every entity, newest key first when reverse
// is set. Returning false from fn stops the iteration.
func (s *BadgerStore) Each(reverse bool, fn func(id string, val []byte) (bool, error)) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = reverse
		prefix := []byte(s.prefix + ":")
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if reverse {
			// Seek past every key with the prefix when iterating backwards.
			start = append(append([]byte{}, prefix...), 0xFF)
		}

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := s.stripPrefix(item.KeyCopy(nil))
			var more bool
			err := item.Value(func(val []byte) error {
				var err error
				more, err = fn(id, val)
				return err
			})
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("listing entities: %w", err)
	}
	return nil
}
