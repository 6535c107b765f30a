package tablerepl

import (
	"gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrConfig covers malformed listener specifications: a bad URI, a
	// start position that does not make sense for the server type.
	ErrConfig = errors.NewKind("config: %s")

	// ErrListenerNotFound is returned when a reconnect or shutdown
	// names a listener id that is not active.
	ErrListenerNotFound = errors.NewKind("replication listener %d not active")

	// ErrAlreadyRunning is returned by Init when the supervisor has
	// already been initialized.
	ErrAlreadyRunning = errors.NewKind("supervisor already initialized")
)
