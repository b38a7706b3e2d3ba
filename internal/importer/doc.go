// Package importer contains the batch account-provisioning pipeline.
//
// An import job takes the rows of one uploaded roster through three
// sequential phases:
//
//  1. Validating: every row is checked against the schema rules and
//     in-file duplicates are resolved (first occurrence of an email wins,
//     later occurrences are rejected individually).
//  2. Creating: one pending account is persisted per valid row, each with
//     a high-entropy provisioning token. Rows are independent; a failed
//     create never affects the rest of the batch.
//  3. Notifying: one provisioning email is sent per created account, with
//     a fixed minimum delay between consecutive sends. A failed send
//     leaves the account pending and recoverable via the resend endpoint.
//
// The orchestrator publishes every phase transition and per-item step to a
// Reporter, an order-preserving event queue that a transport layer (SSE in
// internal/web) drains asynchronously. A slow or disconnected consumer can
// only lose events, never stall the job: once started, a job always runs
// to completion so that no account is left half-provisioned silently.
//
// Failure tiers:
//
//   - Job-fatal (empty upload, row count over the cap, mail transport not
//     configured): a single terminal error event, no rows processed.
//   - Row-fatal (validation or creation failure): the row is rejected with
//     a reason code and the job continues.
//   - Item-fatal (send failure): the account stays pending; surfaced in
//     the final summary, resolved later out of band.
package importer
