package db

// Table names reported in a Change.
const (
	TableCalls   = "calls"
	TablePersons = "persons"
)

// Change operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpReset  = "reset"
)

// Change describes a committed write. Keys are composite ids for calls and
// phone numbers for persons; an empty Keys slice means "many rows".
type Change struct {
	Table string   `json:"table"`
	Op    string   `json:"op"`
	Keys  []string `json:"keys,omitempty"`
}

// Subscribe registers fn to be called after every committed write.
// fn runs on the writer's goroutine and must not block or write to the store.
// The returned function removes the subscription.
func (db *DB) Subscribe(fn func(Change)) (unsubscribe func()) {
	db.observersMu.Lock()
	id := db.nextObs
	db.nextObs++
	db.observers[id] = fn
	db.observersMu.Unlock()

	return func() {
		db.observersMu.Lock()
		delete(db.observers, id)
		db.observersMu.Unlock()
	}
}

func (db *DB) notify(c Change) {
	db.observersMu.RLock()
	fns := make([]func(Change), 0, len(db.observers))
	for _, fn := range db.observers {
		fns = append(fns, fn)
	}
	db.observersMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
