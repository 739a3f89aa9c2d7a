package pay

import "sync/atomic"

// Guard serializes engine mutations by rejection: a second create,
// execute, complete or refund call arriving while one is in flight fails
// with ErrCallInProgress instead of queueing. The escrow primitive is an
// external call that could otherwise re-enter the engine mid-mutation
// and double-spend or double-grant access.
type Guard struct {
	busy atomic.Bool
}

// Enter claims the guard. On success the returned release function must
// be called when the operation completes.
func (g *Guard) Enter() (func(), error) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrCallInProgress
	}
	return func() { g.busy.Store(false) }, nil
}
