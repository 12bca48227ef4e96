// Package datastore holds the raw records received from the server, per
// collection, and notifies about every mutation.
package datastore

import (
	"maps"
	"slices"
	"sync"

	"github.com/openslides/vmrepo/pkg/logger"
	"github.com/openslides/vmrepo/pkg/models"
	"github.com/openslides/vmrepo/pkg/observable"
)

// FieldChange sets one field. A nil Value removes the field; a nil value for
// the id field deletes the whole record.
type FieldChange struct {
	models.FQField
	Value any
}

type Store struct {
	mu          sync.RWMutex
	collections map[string]map[models.ID]*models.Record

	clear   *observable.Subject[[]string]
	updates *observable.Subject[Update]

	logger logger.Logger
}

type Option func(*Store)

func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = logger.OrNop(l)
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[models.ID]*models.Record),
		clear:       observable.NewSubject[[]string](),
		updates:     observable.NewSubject[Update](),
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the record or nil.
func (s *Store) Get(collection string, id models.ID) *models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collections[collection][id]
}

func (s *Store) GetMany(collection string, ids []models.ID) []*models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*models.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.collections[collection][id]; ok {
			records = append(records, r)
		}
	}
	return records
}

// IDs returns the ascending ids of all records of a collection.
func (s *Store) IDs(collection string) []models.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := slices.Collect(maps.Keys(s.collections[collection]))
	slices.Sort(ids)
	return ids
}

// Set replaces whole records.
func (s *Store) Set(records ...*models.Record) Update {
	s.mu.Lock()
	var u Update
	for _, r := range records {
		action := UpdateAction
		if s.collection(r.Collection)[r.ID] == nil {
			action = CreateAction
		}
		stored := r.Clone()
		s.collections[r.Collection][r.ID] = stored
		u.Notifications = append(u.Notifications, Notification{Action: action, FQID: r.FQID(), Delta: stored.Clone()})
	}
	s.mu.Unlock()

	s.publish(u)
	return u
}

// Apply merges field changes into the stored records. Changes are grouped per
// record in first-seen order. Stored records are replaced, never mutated, so
// records handed out earlier stay consistent.
func (s *Store) Apply(changes []FieldChange) Update {
	var (
		order   []models.FQID
		grouped = make(map[models.FQID][]FieldChange)
	)
	for _, c := range changes {
		if _, ok := grouped[c.FQID]; !ok {
			order = append(order, c.FQID)
		}
		grouped[c.FQID] = append(grouped[c.FQID], c)
	}

	s.mu.Lock()
	var u Update
	for _, fqid := range order {
		if n, ok := s.applyRecord(fqid, grouped[fqid]); ok {
			u.Notifications = append(u.Notifications, n)
		}
	}
	s.mu.Unlock()

	s.publish(u)
	return u
}

func (s *Store) applyRecord(fqid models.FQID, changes []FieldChange) (Notification, bool) {
	collection := s.collection(fqid.Collection)
	existing := collection[fqid.ID]

	for _, c := range changes {
		if c.Field == "id" && c.Value == nil {
			if existing == nil {
				return Notification{}, false
			}
			delete(collection, fqid.ID)
			return Notification{Action: DeleteAction, FQID: fqid}, true
		}
	}

	action := UpdateAction
	next := existing.Clone()
	if next == nil {
		action = CreateAction
		next = models.NewRecord(fqid.Collection, fqid.ID, nil)
	}
	delta := models.NewRecord(fqid.Collection, fqid.ID, nil)
	for _, c := range changes {
		delta.Fields[c.Field] = c.Value
		if c.Field == "id" {
			continue
		}
		if c.Value == nil {
			delete(next.Fields, c.Field)
		} else {
			next.Fields[c.Field] = c.Value
		}
	}
	collection[fqid.ID] = next
	return Notification{Action: action, FQID: fqid, Delta: delta}, true
}

func (s *Store) Delete(collection string, ids ...models.ID) Update {
	s.mu.Lock()
	var u Update
	for _, id := range ids {
		if _, ok := s.collections[collection][id]; !ok {
			continue
		}
		delete(s.collections[collection], id)
		u.Notifications = append(u.Notifications, Notification{Action: DeleteAction, FQID: models.NewFQID(collection, id)})
	}
	s.mu.Unlock()

	s.publish(u)
	return u
}

// Clear removes the named collections, or everything when none are named.
// Clearing does not produce update notifications, only a clear notification.
func (s *Store) Clear(collections ...string) {
	s.mu.Lock()
	if len(collections) == 0 {
		s.collections = make(map[string]map[models.ID]*models.Record)
	} else {
		for _, c := range collections {
			delete(s.collections, c)
		}
	}
	s.mu.Unlock()

	s.logger.Debug("data store cleared", "collections", collections)
	if len(collections) == 0 {
		s.clear.Next(nil)
		return
	}
	s.clear.Next(slices.Clone(collections))
}

// ClearObservable emits the cleared collection names, nil meaning all.
func (s *Store) ClearObservable() observable.Observable[[]string] {
	return s.clear
}

func (s *Store) UpdatesObservable() observable.Observable[Update] {
	return s.updates
}

// collection must be called with mu held for writing.
func (s *Store) collection(name string) map[models.ID]*models.Record {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[models.ID]*models.Record)
		s.collections[name] = c
	}
	return c
}

func (s *Store) publish(u Update) {
	if u.Empty() {
		return
	}
	s.logger.Debug("data store updated", "collections", u.Collections(), "notifications", len(u.Notifications))
	s.updates.Next(u)
}
