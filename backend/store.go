package backend

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/GoCodeAlone/conduit/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	schedule    TEXT NOT NULL,
	execution   TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	task_id      INTEGER,
	idx          INTEGER NOT NULL,
	name         TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size         INTEGER NOT NULL,
	data         BLOB NOT NULL,
	created_at   TEXT NOT NULL
);
`

// Store keeps emulated tasks in SQLite.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	parser cron.Parser
}

// OpenStore opens (or creates) the database at dsn, e.g. ":memory:", and
// ensures the schema exists. The caller is responsible for calling Close.
func OpenStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", dsn)
	}
	db.SetMaxOpenConns(1) // one connection keeps :memory: databases alive and avoids SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &Store{
		db:     db,
		now:    time.Now,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// List returns every task ordered by id.
func (s *Store) List(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, schedule, execution, status, created_at FROM tasks ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, errors.Wrap(rows.Err(), "list tasks")
}

// Get retrieves a task by id.
func (s *Store) Get(ctx context.Context, id int64) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, schedule, execution, status, created_at FROM tasks WHERE id = ?`, id)
	t, err := s.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, errors.Wrapf(task.ErrNotFound, "task %d", id)
	}
	return t, err
}

// Count returns the number of stored tasks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, errors.Wrap(err, "count tasks")
}

// CreateBatch inserts all definitions and attachments in one transaction.
// The attachment with index n is linked to the n-th created task when there
// is one.
func (s *Store) CreateBatch(ctx context.Context, defs []task.Definition, files map[int]task.Attachment) ([]task.Task, []task.FileInfo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UTC().Format(time.RFC3339Nano)
	ids := make([]int64, 0, len(defs))
	for _, d := range defs {
		d = d.Normalize()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (name, schedule, execution, status, created_at, updated_at) VALUES (?,?,?,?,?,?)`,
			d.TaskName, d.CronExpression, d.TaskExecution, string(task.StatusActive), now, now)
		if err != nil {
			return nil, nil, errors.Wrap(err, "insert task")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, nil, errors.Wrap(err, "insert task id")
		}
		ids = append(ids, id)
	}

	infos := make([]task.FileInfo, 0, len(files))
	for _, idx := range sortedKeys(files) {
		f := files[idx]
		var taskID any
		if idx >= 0 && idx < len(ids) {
			taskID = ids[idx]
		}
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (id, task_id, idx, name, content_type, size, data, created_at) VALUES (?,?,?,?,?,?,?,?)`,
			uuid.NewString(), taskID, idx, f.Name, ct, len(f.Data), f.Data, now); err != nil {
			return nil, nil, errors.Wrap(err, "insert attachment")
		}
		infos = append(infos, task.FileInfo{Name: f.Name, Size: int64(len(f.Data)), Type: ct})
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, errors.Wrap(err, "commit")
	}

	created := make([]task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		created = append(created, t)
	}
	return created, infos, nil
}

// Update replaces the mutable fields of task id.
func (s *Store) Update(ctx context.Context, id int64, def task.Definition) (task.Task, error) {
	def = def.Normalize()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET name=?, schedule=?, execution=?, updated_at=? WHERE id=?`,
		def.TaskName, def.CronExpression, def.TaskExecution, s.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return task.Task{}, errors.Wrap(err, "update task")
	}
	if err := requireRow(res, id); err != nil {
		return task.Task{}, err
	}
	return s.Get(ctx, id)
}

// Delete removes task id and its attachments.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return errors.Wrap(err, "delete task")
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE task_id=?`, id); err != nil {
		return errors.Wrap(err, "delete attachments")
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Seed inserts tasks, keeping their status, when the table is empty.
// It reports whether anything was inserted.
func (s *Store) Seed(ctx context.Context, tasks []task.Task) (bool, error) {
	n, err := s.Count(ctx)
	if err != nil || n > 0 {
		return false, err
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	for _, t := range tasks {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO tasks (name, schedule, execution, status, created_at, updated_at) VALUES (?,?,?,?,?,?)`,
			t.Name, t.Schedule, t.Execution, string(t.EffectiveStatus()), now, now); err != nil {
			return false, errors.Wrap(err, "seed task")
		}
	}
	return true, nil
}

// AttachmentCount returns the number of stored attachments linked to id.
func (s *Store) AttachmentCount(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachments WHERE task_id = ?`, id).Scan(&n)
	return n, errors.Wrap(err, "count attachments")
}

func requireRow(res sql.Result, id int64) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(task.ErrNotFound, "task %d", id)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTask(sc scanner) (task.Task, error) {
	var (
		t      task.Task
		id     int64
		status string
	)
	if err := sc.Scan(&id, &t.Name, &t.Schedule, &t.Execution, &status, &t.CreatedAt); err != nil {
		return task.Task{}, err
	}
	t.ID = task.ID(strconv.FormatInt(id, 10))
	t.Status = task.Status(status)
	if t.Status == task.StatusActive {
		t.NextRun = s.nextRun(t.Schedule)
	}
	return t, nil
}

// nextRun returns the next activation of expr as RFC 3339, or "" when the
// expression is not understood. It is informational only.
func (s *Store) nextRun(expr string) string {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return ""
	}
	next := sched.Next(s.now())
	if next.IsZero() {
		return ""
	}
	return next.UTC().Format(time.RFC3339)
}

func sortedKeys(m map[int]task.Attachment) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
