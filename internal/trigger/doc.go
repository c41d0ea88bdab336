// Package trigger fires named jobs on cron or interval schedules.
//
// It is trigger-and-run only: each firing runs the job inline on the cron
// goroutine with a per-run timeout, and a firing that finds the previous run
// still in flight is skipped. The dispatch tick is the main user.
package trigger
