package constants

import "time"

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
)

const (
	// ViewModelListAuditTime batches bursts of commits into one update of the
	// sorted-by-sort-function list.
	ViewModelListAuditTime = time.Millisecond

	// SortingUpdatedAuditTime batches bursts of sort definition changes.
	SortingUpdatedAuditTime = 5 * time.Millisecond

	DefaultReconnectInterval = 5 * time.Second
	DefaultRequestTimeout    = 10 * time.Second

	CloseMessageCode = 1000

	StorageKeySortingProperty  = "sorting_property_"
	StorageKeySortingAscending = "sorting_ascending_"
	// StorageKeySortingDeprecated holds the combined definition written by older clients.
	StorageKeySortingDeprecated = "sorting_"
)
