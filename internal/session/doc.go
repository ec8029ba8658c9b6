// Package session is the composition root of refsession.
//
// A Session owns exactly one credential store, event bus, refresh
// coordinator, scheduler and guard, and connects them:
//
//	store ──► scheduler ──► coordinator ──► api.Client
//	  │            │              │
//	  │            └──── bus ◄────┘
//	  └─ bridge ──────►  │
//	                   guard ──► navigator / notifier
//
// Typical use:
//
//	s, err := session.New(ctx, cfg, session.Options{Navigator: nav})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	s.Start(ctx)
//	client := s.HTTPClient(ctx) // bearer auth plus refresh on 401
package session
