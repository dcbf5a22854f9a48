package task

// Placeholders returns the demonstration tasks shown when the remote service
// cannot be reached. A fresh slice is returned on every call.
func Placeholders() []Task {
	return []Task{
		{ID: "1", Name: "data_processing", Schedule: "0 2 * * *", Execution: "/scripts/process_data.sh", Status: StatusActive},
		{ID: "2", Name: "backup_database", Schedule: "0 0 * * 0", Execution: "/scripts/backup.sh", Status: StatusActive},
		{ID: "3", Name: "send_reports", Schedule: "0 9 * * 1-5", Execution: "/scripts/reports.py", Status: StatusPaused},
		{ID: "4", Name: "cleanup_logs", Schedule: "0 1 * * *", Execution: "/scripts/cleanup.sh", Status: StatusActive},
		{ID: "5", Name: "sync_data", Schedule: "*/15 * * * *", Execution: "/scripts/sync.py", Status: StatusActive},
		{ID: "6", Name: "health_check", Schedule: "*/5 * * * *", Execution: "/scripts/health.sh", Status: StatusActive},
	}
}
