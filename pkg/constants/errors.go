package constants

import "errors"

// Errors
var (
	ErrNoViewModelConstructor = errors.New("no view model constructor registered for collection")
	ErrRecordNotFound         = errors.New("record not found in data store")
	ErrInvalidFQID            = errors.New("invalid fqid")
	ErrInvalidFQField         = errors.New("invalid fqfield")
	ErrUnknownSortOption      = errors.New("unknown sort option")
)

var (
	ErrNotLoaded      = errors.New("sort definition not loaded")
	ErrClosed         = errors.New("closed")
	ErrTimeout        = errors.New("timeout")
	ErrInvalidMessage = errors.New("invalid autoupdate message")
	ErrNoURL          = errors.New("autoupdate url not set")
)
