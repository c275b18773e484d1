// Package status publishes the login state of every supervised account.
//
// The supervisor is the only writer. Readers take snapshots or subscribe to
// updates; subscribers are called after all locks are released, so they may
// read the registry again.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
)

// Update describes one change to an account's published state.
type Update struct {
	SID      string       `json:"sid"`
	State    login.State  `json:"state"`
	Previous login.Status `json:"previous,omitempty"`
	Deleted  bool         `json:"deleted,omitempty"`
	Time     time.Time    `json:"time"`
}

// Entry is a snapshot of one account.
type Entry struct {
	SID       string      `json:"sid"`
	State     login.State `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type entry struct {
	mu        sync.Mutex
	state     login.State
	updatedAt time.Time
}

// Registry maps session ids to their published state. The map has its own
// lock; each account's state is guarded by the account's lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	subMu sync.RWMutex
	subs  map[string]func(Update)

	now func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		subs:    make(map[string]func(Update)),
		now:     time.Now,
	}
}

// Subscribe registers fn for every future update and returns a function that
// removes it.
func (r *Registry) Subscribe(fn func(Update)) (cancel func()) {
	id := uuid.NewString()
	r.subMu.Lock()
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (r *Registry) Subscribers() int {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	return len(r.subs)
}

func (r *Registry) notify(u Update) {
	r.subMu.RLock()
	fns := make([]func(Update), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
}

func (r *Registry) lookup(sid string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[sid]
}

func (r *Registry) lookupOrCreate(sid string) *entry {
	if e := r.lookup(sid); e != nil {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sid]; ok {
		return e
	}
	e := &entry{state: login.State{Status: login.StatusInit}}
	r.entries[sid] = e
	return e
}

// Get returns a copy of every account's state, keyed by session id.
func (r *Registry) Get() map[string]login.State {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.entries))
	for sid, e := range r.entries {
		entries[sid] = e
	}
	r.mu.RUnlock()

	out := make(map[string]login.State, len(entries))
	for sid, e := range entries {
		e.mu.Lock()
		out[sid] = e.state
		e.mu.Unlock()
	}
	return out
}

// Entries returns every account's state sorted by session id.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	sids := make([]string, 0, len(r.entries))
	entries := make([]*entry, 0, len(r.entries))
	for sid, e := range r.entries {
		sids = append(sids, sid)
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		out[i] = Entry{SID: sids[i], State: e.state, UpdatedAt: e.updatedAt}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SID < out[j].SID })
	return out
}

// Lookup returns one account's state.
func (r *Registry) Lookup(sid string) (login.State, bool) {
	e := r.lookup(sid)
	if e == nil {
		return login.State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Set replaces an account's state.
func (r *Registry) Set(sid string, st login.State) {
	r.Update(sid, func(s *login.State) { *s = st })
}

// Update mutates an account's state in place, creating it at init if the
// account has none.
func (r *Registry) Update(sid string, fn func(*login.State)) {
	e := r.lookupOrCreate(sid)

	e.mu.Lock()
	prev := e.state.Status
	fn(&e.state)
	e.updatedAt = r.now()
	u := Update{SID: sid, State: e.state, Previous: prev, Time: e.updatedAt}
	e.mu.Unlock()

	r.notify(u)
}

// Touch re-announces an account's current state. Unknown accounts are
// ignored.
func (r *Registry) Touch(sid string) {
	e := r.lookup(sid)
	if e == nil {
		return
	}
	e.mu.Lock()
	u := Update{SID: sid, State: e.state, Previous: e.state.Status, Time: r.now()}
	e.mu.Unlock()

	r.notify(u)
}

// Delete removes an account. It reports whether the account existed.
func (r *Registry) Delete(sid string) bool {
	r.mu.Lock()
	e, ok := r.entries[sid]
	delete(r.entries, sid)
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	prev := e.state.Status
	e.mu.Unlock()

	r.notify(Update{SID: sid, Previous: prev, Deleted: true, Time: r.now()})
	return true
}

// For returns a store scoped to one account.
func (r *Registry) For(sid string) *Handle {
	return &Handle{sid: sid, reg: r}
}

// Handle is one account's view of the registry. It satisfies login.Store.
type Handle struct {
	sid string
	reg *Registry
}

var _ login.Store = (*Handle)(nil)

// SID returns the account the handle is scoped to.
func (h *Handle) SID() string { return h.sid }

func (h *Handle) Get() (login.State, bool) { return h.reg.Lookup(h.sid) }
func (h *Handle) Set(st login.State) { h.reg.Set(h.sid, st) }
func (h *Handle) Update(fn func(*login.State)) { h.reg.Update(h.sid, fn) }
func (h *Handle) Touch() { h.reg.Touch(h.sid) }
