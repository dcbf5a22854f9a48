package task

import "strings"

// ScheduleFields is the number of space-separated fields in a schedule
// expression: minute, hour, day of month, month, day of week.
const ScheduleFields = 5

var (
	errNameRequired      = &ValidationError{Field: "taskName", Message: "Task name is required", Err: ErrMissingField}
	errScheduleRequired  = &ValidationError{Field: "cronExpression", Message: "Cron expression is required", Err: ErrMissingField}
	errExecutionRequired = &ValidationError{Field: "taskExecution", Message: "Task execution is required", Err: ErrMissingField}
	errMalformedSchedule = &ValidationError{
		Field:   "cronExpression",
		Message: "Invalid cron expression format. Expected 5 parts (minute hour day month weekday)",
		Err:     ErrMalformedSchedule,
	}
	errNoTasks = &ValidationError{Field: "tasks", Message: "No tasks provided", Err: ErrInvalidPayload}
)

// Validate checks a single definition. Blank fields are reported in the order
// name, schedule, execution; the schedule is checked only for its shape.
func Validate(def Definition) error {
	def = def.Normalize()
	switch {
	case def.TaskName == "":
		return errNameRequired
	case def.CronExpression == "":
		return errScheduleRequired
	case def.TaskExecution == "":
		return errExecutionRequired
	}
	if !WellFormedSchedule(def.CronExpression) {
		return errMalformedSchedule
	}
	return nil
}

// ValidateBatch validates every definition and rejects the whole batch on
// the first invalid one.
func ValidateBatch(defs []Definition) error {
	if len(defs) == 0 {
		return errNoTasks
	}
	for i, def := range defs {
		if err := Validate(def); err != nil {
			return &BatchError{Index: i, Err: err}
		}
	}
	return nil
}

// WellFormedSchedule reports whether expr splits on single spaces into
// exactly five non-empty fields. Field values are not interpreted.
func WellFormedSchedule(expr string) bool {
	parts := strings.Split(strings.TrimSpace(expr), " ")
	if len(parts) != ScheduleFields {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
