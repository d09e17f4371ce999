package sqlcgen

import "time"

type ActionRun struct {
	ID         string
	Action     string
	StartedAt  time.Time
	DurationMs int64
	LastError  *string
	CreatedAt  time.Time
}
