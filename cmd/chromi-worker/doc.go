// Command chromi-worker runs queued conversions.
//
// With QUEUE_BACKEND=redis the chromi server only stages uploads and pushes
// jobs onto the chromi:jobs:queue list. Each worker goroutine pops one job
// at a time, converts it exactly as the server would in synchronous mode and
// records the result in the job hash, where GET /jobs/{id}/ finds it. Download
// tokens are written to Redis so the server can redeem them.
//
// The worker must see the same WORK_DIR as the server (a shared volume).
// QUEUE_WORKERS caps the number of concurrent conversions; the default is
// one per CPU.
//
// SIGINT or SIGTERM cancels running conversions; their jobs are recorded as
// failed.
package main
