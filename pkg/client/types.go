package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProcessStatus is one kind's lifecycle.
type ProcessStatus struct {
	Kind      string        `json:"kind"`
	State     string        `json:"state"`
	Signal    string        `json:"signal"`
	Alive     bool          `json:"alive"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime"`
	ExitCode  int           `json:"exit_code"`
	ExitErr   string        `json:"exit_error,omitempty"`
}

// Overview is the body of GET /status.
type Overview struct {
	Uptime      string          `json:"uptime"`
	CurrentNode string          `json:"current_node"`
	Processes   []ProcessStatus `json:"processes"`
}

// KindStatus carries the kind-specific stats undecoded; their shape depends on the kind.
type KindStatus struct {
	Status ProcessStatus   `json:"status"`
	Output string          `json:"output"`
	Stats  json.RawMessage `json:"stats"`
}

type ProcessUsage struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
	NumThreads int32   `json:"num_threads"`
}

// Host is the last host telemetry sample.
type Host struct {
	CPUPercent  float64                 `json:"cpu_percent"`
	CPUCount    int                     `json:"cpu_count"`
	MemoryTotal uint64                  `json:"memory_total"`
	MemoryUsed  uint64                  `json:"memory_used"`
	Self        ProcessUsage            `json:"self"`
	Children    map[string]ProcessUsage `json:"children,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
}

// ScheduleEntry is a scheduled action and its next activation.
type ScheduleEntry struct {
	Name string    `json:"name"`
	Cron string    `json:"cron"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Mode is the live donation setting.
type Mode struct {
	Mode   string  `json:"mode"`
	Amount float64 `json:"amount"`
	Level  string  `json:"level"`
}

// ModeUpdate changes only the fields that are set.
type ModeUpdate struct {
	Mode   *string  `json:"mode,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
	Level  *string  `json:"level,omitempty"`
}

type stdinRequest struct {
	Line string `json:"line"`
}

// ErrorResponse is the server's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for any non-200 reply.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
