// Package events provides the session event bus.
//
// Components announce session lifecycle changes by publishing Events on a
// Bus; consumers such as the session guard and the watch command subscribe
// to them:
//
//   - Refreshed: a new credential was stored (locally or by another context)
//   - ExpiringSoon: the access token is inside the refresh threshold
//   - Expired: the stored access token is unusable
//   - RefreshFailed: a refresh failed and the session was cleared
//   - SignedOutElsewhere: another context cleared the shared session
//
// Delivery is synchronous and in subscription order. Events are never queued
// or replayed.
//
// BridgeStore connects a credential store's external-change signal to the
// bus, so that a logout in one process reaches the guard of every other
// process sharing the same storage.
//
// Usage:
//
//	bus := events.NewBus()
//	unsubscribe := bus.Subscribe(func(e events.Event) {
//		if e.Kind.IsTerminal() {
//			// send the user to the login entry point
//		}
//	})
//	defer unsubscribe()
//
//	stopBridge := events.BridgeStore(store, bus)
//	defer stopBridge()
//
// MessageTemplateEngine renders user-facing text for events from Go
// templates with the sprig function map.
package events
