package client

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a map client: Unregistered, Fetching,
// Subscribed, OneShot, or Shutdown
type State uint32

const (
	//Unregistered is the initial state, before any contact with a map service.
	Unregistered State = iota
	//Fetching means a fetch round trip is in flight.
	Fetching
	//Subscribed means the initial fetch completed and the client receives
	//pushed updates.
	Subscribed
	//OneShot means the initial fetch completed without a subscription.
	OneShot
	//Shutdown is shutdown
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Unregistered:
		return "Unregistered"
	case Fetching:
		return "Fetching"
	case Subscribed:
		return "Subscribed"
	case OneShot:
		return "OneShot"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

type state struct {
	state State
	wg    sync.WaitGroup
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// Start a goroutine and add it to waitgroup
func (b *state) goFunc(f func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		f()
	}()
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
