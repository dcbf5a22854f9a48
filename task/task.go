// Package task defines the scheduled task model, its validation rules and the
// store contract used to reach the remote task service.
package task

import (
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status represents the scheduling state of a task.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusFailed:
		return true
	}
	return false
}

// Label returns the display form of the status, e.g. "Paused".
func (s Status) Label() string {
	if s == "" {
		s = StatusActive
	}
	return cases.Title(language.English).String(string(s))
}

// Task is a named, schedulable unit of work held by the remote task service.
type Task struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	Schedule  string `json:"schedule"`
	Execution string `json:"execution"`
	Status    Status `json:"status,omitempty"`
	LastRun   string `json:"lastRun,omitempty"` // ISO-8601
	NextRun   string `json:"nextRun,omitempty"` // ISO-8601
	CreatedAt string `json:"created_at,omitempty"`
}

// EffectiveStatus returns the task status, defaulting to active when unset.
func (t Task) EffectiveStatus() Status {
	if t.Status == "" {
		return StatusActive
	}
	return t.Status
}

// Definition returns the mutable fields of t, used to pre-populate edit forms.
func (t Task) Definition() Definition {
	return Definition{
		TaskName:       t.Name,
		CronExpression: t.Schedule,
		TaskExecution:  t.Execution,
	}
}

// UnmarshalJSON accepts both the listing shape (name/schedule/execution) and
// the definition shape (taskName/cronExpression/taskExecution).
func (t *Task) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             ID     `json:"id"`
		Name           string `json:"name"`
		Schedule       string `json:"schedule"`
		Execution      string `json:"execution"`
		TaskName       string `json:"taskName"`
		CronExpression string `json:"cronExpression"`
		TaskExecution  string `json:"taskExecution"`
		Status         Status `json:"status"`
		LastRun        string `json:"lastRun"`
		NextRun        string `json:"nextRun"`
		CreatedAt      string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = Task{
		ID:        raw.ID,
		Name:      firstNonEmpty(raw.Name, raw.TaskName),
		Schedule:  firstNonEmpty(raw.Schedule, raw.CronExpression),
		Execution: firstNonEmpty(raw.Execution, raw.TaskExecution),
		Status:    raw.Status,
		LastRun:   raw.LastRun,
		NextRun:   raw.NextRun,
		CreatedAt: raw.CreatedAt,
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Definition is the mutable triple submitted on create and edit.
type Definition struct {
	TaskName       string `json:"taskName"`
	CronExpression string `json:"cronExpression"`
	TaskExecution  string `json:"taskExecution"`
}

// Normalize returns d with surrounding whitespace trimmed from every field.
func (d Definition) Normalize() Definition {
	return Definition{
		TaskName:       strings.TrimSpace(d.TaskName),
		CronExpression: strings.TrimSpace(d.CronExpression),
		TaskExecution:  strings.TrimSpace(d.TaskExecution),
	}
}

// Attachment is an uploaded executable file accompanying a create request.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// FileField returns the multipart part name carrying the attachment for the
// i-th definition of a batch.
func FileField(i int) string { return "file_" + strconv.Itoa(i) }

// ParseFileField is the inverse of FileField.
func ParseFileField(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, "file_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// FileInfo describes a file the remote service received.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// CreateResult is the response to a batch create.
type CreateResult struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Tasks   []Task     `json:"tasks"`
	Files   []FileInfo `json:"files"`
}

// Deletion confirms a delete.
type Deletion struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	DeletedTaskID ID     `json:"deletedTaskId"`
	DeletedAt     string `json:"deleted_at"`
}
