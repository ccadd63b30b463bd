// Package cron runs periodic maintenance jobs such as the memory expiry sweep.
package cron

import "context"

// Job is a periodic background task.
type Job interface {
	// Name identifies the job in logs and must be unique per scheduler.
	Name() string

	// Schedule returns a 5-field cron expression (e.g. "0 3 * * *").
	Schedule() string

	Run(ctx context.Context) error
}
