package model

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a queued Task.
type TaskStatus string

// Task statuses.
const (
	TaskPending TaskStatus = "pending"
	TaskLeased  TaskStatus = "leased"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Task is one durable unit of deferred pipeline work.
type Task struct {
	AvailableAt time.Time       `json:"available_at"`
	CreatedAt   time.Time       `json:"created_at"`
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	DedupKey    string          `json:"dedup_key,omitempty"`
	Status      TaskStatus      `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
}
