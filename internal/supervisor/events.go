package supervisor

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// EventKind is what the hosting side reports about an account.
type EventKind int

const (
	// EventConnect asks for the account's gateway to run.
	EventConnect EventKind = iota
	// EventDisconnect removes the account entirely.
	EventDisconnect
	// EventRegister makes the account known without starting it.
	EventRegister
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventRegister:
		return "register"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one lifecycle notification.
type Event struct {
	Kind    EventKind
	Account Account
}

// HandleEvent applies ev. Connect events of accounts whose gateway is
// disabled are ignored. A disconnect event is a hard disconnect.
func (s *Supervisor) HandleEvent(ctx context.Context, ev Event) error {
	sid := ev.Account.SID
	switch ev.Kind {
	case EventConnect:
		if !ev.Account.Enabled {
			s.logger.Debug("gateway disabled, ignoring connect", "sid", sid)
			return nil
		}
		return s.Connect(ctx, ev.Account)
	case EventDisconnect:
		return s.Disconnect(sid, true)
	case EventRegister:
		return s.Register(ev.Account)
	default:
		return fmt.Errorf("unknown event kind %v", ev.Kind)
	}
}

// Run handles events until ctx is done, then stops every gateway.
//
// Events of one account are applied in arrival order on that account's
// lane; accounts proceed independently. A connect holds its lane only while
// the gateway is spawned. The wait for login happens off the lane, so a
// later disconnect of the same account kills the gateway and fails the
// pending connect. Failures are logged and do not end the loop.
func (s *Supervisor) Run(ctx context.Context, events <-chan Event) error {
	var wg sync.WaitGroup
	lanes := make(map[string]*lane)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return s.Shutdown()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			l, ok := lanes[ev.Account.SID]
			if !ok {
				l = &lane{}
				lanes[ev.Account.SID] = l
			}
			if l.push(ev) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					s.drain(ctx, l, &wg)
				}()
			}
		}
	}
}

// lane queues the pending events of one account.
type lane struct {
	mu      sync.Mutex
	pending []Event
	busy    bool
}

// push queues ev and reports whether the caller must start draining.
func (l *lane) push(ev Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, ev)
	if l.busy {
		return false
	}
	l.busy = true
	return true
}

// pop returns the next event, or false once the lane is empty. The lane is
// idle again after a false return.
func (l *lane) pop() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		l.busy = false
		return Event{}, false
	}
	ev := l.pending[0]
	l.pending = l.pending[1:]
	return ev, true
}

func (s *Supervisor) drain(ctx context.Context, l *lane, wg *sync.WaitGroup) {
	for {
		ev, ok := l.pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			continue
		}
		s.apply(ctx, ev, wg)
	}
}

// apply handles ev in order with its account's other events. The login wait
// of a connect is started on its own goroutine tracked by wg.
func (s *Supervisor) apply(ctx context.Context, ev Event, wg *sync.WaitGroup) {
	logFailure := func(err error) {
		s.logger.Warn("account event failed",
			"sid", ev.Account.SID,
			"event", ev.Kind.String(),
			"error", err)
	}

	if ev.Kind != EventConnect || !ev.Account.Enabled {
		if err := s.HandleEvent(ctx, ev); err != nil {
			logFailure(err)
		}
		return
	}

	if err := validate(ev.Account); err != nil {
		logFailure(err)
		return
	}
	a := s.register(ev.Account)
	run, err := s.restart(a)
	if err != nil {
		logFailure(err)
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.await(ctx, a, run); err != nil && ctx.Err() == nil {
			logFailure(err)
		}
	}()
}

// Diff returns the events that move the running set from prev to next.
// Accounts that vanished or became disabled are disconnected; new or changed
// enabled accounts are connected. An account that became disabled is
// registered again after its disconnect so it can still be started by hand.
func Diff(prev, next []Account) []Event {
	old := make(map[string]Account, len(prev))
	for _, a := range prev {
		old[a.SID] = a
	}

	var events []Event
	seen := make(map[string]bool, len(next))
	for _, a := range next {
		seen[a.SID] = true
		before, existed := old[a.SID]
		switch {
		case !a.Enabled:
			if existed && before.Enabled {
				events = append(events,
					Event{Kind: EventDisconnect, Account: a},
					Event{Kind: EventRegister, Account: a})
			}
		case !existed || !before.Enabled || !reflect.DeepEqual(before, a):
			events = append(events, Event{Kind: EventConnect, Account: a})
		}
	}
	for _, a := range prev {
		if !seen[a.SID] {
			events = append(events, Event{Kind: EventDisconnect, Account: a})
		}
	}
	return events
}
