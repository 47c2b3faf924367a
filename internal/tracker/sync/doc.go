// Package sync runs the device-side sync pass.
//
// A pass sweeps processing markers left by crashed runs, imports new entries
// from the device call log (aggregating their persons on the way) and then
// attaches recordings to every call still waiting for one:
//
//	Call log ──► importer ──► store ──► aggregate
//	                            │
//	recording dirs ──► recsync ─┘
//
// Only one pass runs at a time. A caller arriving while a pass is in flight
// gets Result{AlreadyRunning: true} back immediately:
//
//	orch := sync.New(store, imp, coord, settings, reporter, sync.DefaultConfig(), logger)
//	res, err := orch.Sync(ctx, "cli")
//	if err != nil {
//	    return err
//	}
//	if res.AlreadyRunning {
//	    fmt.Println("sync already in progress")
//	}
//
// Every pass that acquires the lock is recorded in the sync_runs table with
// its phase, final status and counters.
package sync
