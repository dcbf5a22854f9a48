package task

import "strings"

var scheduleDescriptions = map[string]string{
	"* * * * *":    "Every minute",
	"*/5 * * * *":  "Every 5 minutes",
	"*/15 * * * *": "Every 15 minutes",
	"0 * * * *":    "Every hour",
	"0 0 * * *":    "Daily at midnight",
	"0 2 * * *":    "Daily at 2:00 AM",
	"0 1 * * *":    "Daily at 1:00 AM",
	"0 0 * * 0":    "Weekly on Sunday",
	"0 9 * * 1-5":  "Weekdays at 9:00 AM",
	"0 0 1 * *":    "Monthly on the 1st",
}

// Describe returns a human readable form of well-known schedule expressions
// and the expression itself otherwise.
func Describe(expr string) string {
	if d, ok := scheduleDescriptions[strings.TrimSpace(expr)]; ok {
		return d
	}
	return expr
}

// Preset is a commonly used schedule offered on the create form.
type Preset struct {
	Label string
	Value string
}

// Presets lists the quick-pick schedules.
var Presets = []Preset{
	{Label: "Every minute", Value: "* * * * *"},
	{Label: "Every 5 min", Value: "*/5 * * * *"},
	{Label: "Every hour", Value: "0 * * * *"},
	{Label: "Daily midnight", Value: "0 0 * * *"},
	{Label: "Weekly Sunday", Value: "0 0 * * 0"},
	{Label: "Monthly 1st", Value: "0 0 1 * *"},
}

// FilterByName returns the tasks whose name contains query, ignoring case.
// An empty query matches everything. The input slice is not modified.
func FilterByName(tasks []Task, query string) []Task {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if q == "" || strings.Contains(strings.ToLower(t.Name), q) {
			out = append(out, t)
		}
	}
	return out
}
