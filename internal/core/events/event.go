// Package events carries the change notifications flowing from the state
// registry to the bus adapters over the actor system's event stream.
package events

import (
	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"
)

// PathsChangedEvent is one committed registry batch. Changes arrive in
// registration order; a poll cycle produces exactly one event.
type PathsChangedEvent struct {
	Changes []registry.Change
}
