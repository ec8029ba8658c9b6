package credential

import (
	"sync"

	"refsession/pkg/logging"
)

// listenerSet keeps external-change listeners in registration order.
type listenerSet struct {
	mu     sync.RWMutex
	nextID int
	items  []listenerEntry
}

type listenerEntry struct {
	id int
	fn ChangeListener
}

func (l *listenerSet) add(fn ChangeListener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.items = append(l.items, listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listenerSet) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, entry := range l.items {
		if entry.id == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return
		}
	}
}

// notify calls every listener with its own copy of the change. A panicking
// listener does not stop the others.
func (l *listenerSet) notify(change Change) {
	l.mu.RLock()
	snapshot := make([]listenerEntry, len(l.items))
	copy(snapshot, l.items)
	l.mu.RUnlock()

	for _, entry := range snapshot {
		c := change
		c.Credential = change.Credential.Clone()
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Warn("CredentialStore", "external change listener panicked: %v", r)
				}
			}()
			entry.fn(c)
		}()
	}
}
