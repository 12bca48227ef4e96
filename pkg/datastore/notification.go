package datastore

import (
	"slices"

	"github.com/openslides/vmrepo/pkg/models"
)

type Action string

const (
	CreateAction Action = "CREATE"
	UpdateAction Action = "UPDATE"
	DeleteAction Action = "DELETE"
)

// Notification describes the change of one record. Delta holds only the fields
// touched by the change; a field mapped to nil was removed. Delta is nil for
// deletions.
type Notification struct {
	Action Action
	FQID   models.FQID
	Delta  *models.Record
}

// Update is the set of notifications produced by one mutation of the store.
type Update struct {
	Notifications []Notification
}

func (u Update) Empty() bool {
	return len(u.Notifications) == 0
}

// Collections returns the sorted names of all collections touched by u.
func (u Update) Collections() []string {
	var collections []string
	for _, n := range u.Notifications {
		if !slices.Contains(collections, n.FQID.Collection) {
			collections = append(collections, n.FQID.Collection)
		}
	}
	slices.Sort(collections)
	return collections
}

// Changed returns the created or updated ids of a collection and their deltas,
// in notification order.
func (u Update) Changed(collection string) ([]models.ID, []*models.Record) {
	var (
		ids    []models.ID
		deltas []*models.Record
	)
	for _, n := range u.Notifications {
		if n.FQID.Collection != collection || n.Action == DeleteAction {
			continue
		}
		ids = append(ids, n.FQID.ID)
		deltas = append(deltas, n.Delta)
	}
	return ids, deltas
}

// Deleted returns the deleted ids of a collection.
func (u Update) Deleted(collection string) []models.ID {
	var ids []models.ID
	for _, n := range u.Notifications {
		if n.FQID.Collection == collection && n.Action == DeleteAction {
			ids = append(ids, n.FQID.ID)
		}
	}
	return ids
}
