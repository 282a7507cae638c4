// Package transfersaga orchestrates multi-step money transfers as sagas.
//
// A transfer is driven by a durable state machine that sequences the remote
// operations validate, lock, debit, and credit, and keeps a compensation
// stack it unwinds in reverse order if the credit fails.  The transfer
// either completes in full or is fully compensated.  For more on distributed
// sagas, see this 2017 JOTB talk by Caitie McCaffrey:
// https://www.youtube.com/watch?v=0UTOLRTwOX0
//
// Overview
//
//  1. Implement the Activities interface against your account, validation,
//     notification, and persistence collaborators. Remote mutations must be
//     idempotent: the gateway retries transient failures.
//  2. Create an Orchestrator with New, passing the activities and any
//     options (logger, store, retry policies).
//  3. Start a run with Orchestrator.Start and wait on Run.Wait, or query
//     progress with Orchestrator.GetStatus.
//  4. Control a live run with Pause, Resume, and Cancel. Signals are applied
//     at checkpoints between steps; an activity in flight is never
//     interrupted.
//  5. After a crash, call Orchestrator.Recover with the run ID to continue
//     from the last durable checkpoint. Use NewFileStore (or your own Store)
//     for durability.
//
// For a complete example, see examples/transfer_cli.
package transfersaga
