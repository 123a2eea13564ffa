package account

import (
	"context"

	"github.com/looplab/fsm"
)

// Sync states.
const (
	SyncIdle        = "idle"
	SyncFetching    = "fetching"
	SyncReconciling = "reconciling"
	SyncFailed      = "failed"
)

// Sync events.
const (
	EventFetch     = "fetch"
	EventReconcile = "reconcile"
	EventDone      = "done"
	EventFail      = "fail"
	EventReset     = "reset"
)

func newSyncFSM() *fsm.FSM {
	return fsm.NewFSM(
		SyncIdle,
		fsm.Events{
			{Name: EventFetch, Src: []string{SyncIdle}, Dst: SyncFetching},
			{Name: EventReconcile, Src: []string{SyncFetching}, Dst: SyncReconciling},
			{Name: EventDone, Src: []string{SyncReconciling}, Dst: SyncIdle},
			{Name: EventFail, Src: []string{SyncFetching, SyncReconciling}, Dst: SyncFailed},
			{Name: EventReset, Src: []string{SyncFailed}, Dst: SyncIdle},
		},
		fsm.Callbacks{},
	)
}

// SyncState returns the current sync state.
func (a *Account) SyncState() string {
	return a.sync.Current()
}

// SyncEvent moves the sync state machine. It fails when the event is not
// valid in the current state.
func (a *Account) SyncEvent(ctx context.Context, event string) error {
	return a.sync.Event(ctx, event)
}
