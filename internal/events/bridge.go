package events

import (
	"refsession/internal/credential"
	"refsession/pkg/logging"
)

// BridgeStore republishes the store's external changes on the bus: a clear
// made by another context becomes SignedOutElsewhere, a replacement becomes
// Refreshed. The returned function detaches the bridge.
func BridgeStore(store credential.Store, bus *Bus) (stop func()) {
	return store.OnExternalChange(func(change credential.Change) {
		if change.Cleared {
			logging.Info("SessionEvents", "Session ended by another context (origin=%s)", logging.TruncateID(change.Origin))
			bus.Publish(SignedOutElsewhere(change.Origin))
			return
		}
		if change.Credential == nil {
			return
		}
		e := Refreshed(change.Credential)
		e.Origin = change.Origin
		bus.Publish(e)
	})
}
