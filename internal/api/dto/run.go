package dto

import "time"

type CreateRunRequest struct {
	Facility    string `json:"facility"`
	ServiceDate string `json:"service_date"`
	ScheduledAt *int64 `json:"scheduled_at,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

type RunResponse struct {
	RunID       int64          `json:"run_id"`
	FacilityID  int64          `json:"facility_id"`
	ServiceDate string         `json:"service_date"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Profile     string         `json:"profile"`
	Status      string         `json:"status"`
	RequestedBy string         `json:"requested_by,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}
