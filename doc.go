// Package vmrepo keeps reactive, sorted caches of view models derived from the
// records of a [datastore.Store].
//
// # Repositories
//
// A [Repository] manages the view models of one collection. It is fed by a
// [Collector], which forwards every data store update as a sequence of
// [Repository.DeleteModels], [Repository.ChangedModels] and
// [Repository.CommitUpdate] calls. Consumers read through synchronous
// accessors or subscribe to observables of single view models, of the whole
// map and of the sorted list.
//
// # Sorting
//
// The sorted list is maintained incrementally by a per-repository task
// pipeline. Changes are merged into the existing order; the whole list is only
// re-sorted when a field the active comparison depends on changed, when the
// sort strategy or its definition changed, or when a foreign field it depends
// on changed in another collection.
//
// Sort strategies are provided by [github.com/openslides/vmrepo/pkg/sortlist]
// and attached with [Repository.RegisterSortListService]. Without a strategy
// the list is ordered by id.
//
// # Relations
//
// Relation fields of view models are resolved through the
// [github.com/openslides/vmrepo/pkg/relations] manager of the collector, which
// looks up the repositories of the related collections.
//
// [datastore.Store]: https://pkg.go.dev/github.com/openslides/vmrepo/pkg/datastore#Store
package vmrepo
