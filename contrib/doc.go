// Package contrib holds collection bundles built on the vmrepo core.
//
// A bundle declares the view models, relations and sort options of a group
// of collections and registers them with a [github.com/openslides/vmrepo.Collector].
// [github.com/openslides/vmrepo/contrib/motions] covers motions with their
// states, workflows and submitters.
//
// Packages here may change without following semantic versioning.
package contrib
