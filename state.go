// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tether

import (
	"fmt"
	"slices"
)

// State is the connection state of a [Client].
type State byte

const (
	Disconnected State = iota // no session; requests fail with ErrNotReady
	Connecting                // transport is being attached
	Connected                 // session is live
)

var stateNames = [...]string{"Disconnected", "Connecting", "Connected"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", byte(s))
}

// A StateObserver is notified of each change in the session state.
type StateObserver func(old, new State)

type stateObserver struct{ f StateObserver }

// State reports the current session state of c.
func (c *Client) State() State {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.state
}

// OnStateChange registers f to be called after each state transition of c.
// Observers are called synchronously by the goroutine that caused the
// transition, in registration order, before that operation returns.
//
// The returned function removes f; it is safe to call more than once.
func (c *Client) OnStateChange(f StateObserver) (cancel func()) {
	obs := &stateObserver{f: f}
	c.μ.Lock()
	c.stateObs = append(c.stateObs, obs)
	c.μ.Unlock()
	return func() {
		c.μ.Lock()
		defer c.μ.Unlock()
		c.stateObs = slices.DeleteFunc(c.stateObs, func(o *stateObserver) bool { return o == obs })
	}
}

// transition moves c to state next if its current state is one of from, and
// notifies the state observers. It reports the state prior to the call, and
// whether the transition occurred.
func (c *Client) transition(next State, from ...State) (State, bool) {
	c.μ.Lock()
	prev := c.state
	if !slices.Contains(from, prev) {
		c.μ.Unlock()
		return prev, false
	}
	c.state = next
	obs := slices.Clone(c.stateObs)
	c.μ.Unlock()

	clientMetrics.stateChange.With("state", next.String()).Add(1)
	c.log.Log("event", "state", "from", prev, "to", next)
	for _, o := range obs {
		o.f(prev, next)
	}
	return prev, true
}
