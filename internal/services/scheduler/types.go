package scheduler

import "context"

// Notifier delivers one rework notification payload
type Notifier interface {
	PostNotification(ctx context.Context, payload interface{}) error
}

// JobListResponse represents a scheduled job in list responses
type JobListResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	JobType    string  `json:"job_type"`
	Cron       string  `json:"cron"`
	Timezone   string  `json:"timezone"`
	Enabled    bool    `json:"enabled"`
	LastRunAt  *string `json:"last_run_at"` // ISO 8601 format
	NextRun    *string `json:"next_run"`    // ISO 8601 format
	LastStatus string  `json:"last_status"`
	LastError  string  `json:"last_error,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// UpsertJobRequest represents a request to create or update a scheduled job
type UpsertJobRequest struct {
	Name     string      `json:"name"`
	JobType  string      `json:"job_type"` // "advancement_sweep" or "notification_dispatch"
	Cron     string      `json:"cron"`
	Timezone string      `json:"timezone"`
	Enabled  bool        `json:"enabled"`
	Payload  interface{} `json:"payload"` // Can be map or string
}

// SweepJobPayload limits an advancement sweep to some work units
type SweepJobPayload struct {
	WorkUnitIDs []uint `json:"work_unit_ids"`
}

// DispatchJobPayload overrides the dispatch batch size
type DispatchJobPayload struct {
	BatchSize int `json:"batch_size"`
}

// SweepResult summarises one advancement sweep
type SweepResult struct {
	UnitsChecked int `json:"units_checked"`
	PanelsMoved  int `json:"panels_moved"`
	ModulesMoved int `json:"modules_moved"`
	Failed       int `json:"failed"`
}

// DispatchResult summarises one notification dispatch
type DispatchResult struct {
	Pending   int `json:"pending"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}
