// Package jobs hosts the Asynq worker runtime and background task
// definitions.
package jobs

const (
	// QueueDefault is the queue every scheduled task lands on.
	QueueDefault = "default"
)
