package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Unix(1700000000, 0).UTC()

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStoreWithPool(mock, "", fixedClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func jobRows() *pgxmock.Rows {
	return pgxmock.NewRows(jobColumns)
}

func TestNewJobStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(mock, "jobs; DROP TABLE x", nil)
	require.ErrorContains(t, err, "invalid table name")
	_, err = NewJobStoreWithPool(nil, "", nil)
	require.ErrorContains(t, err, "pool is required")
}

func TestCreateJobInsertsQueuedRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO similarity_jobs (id,status,spreadsheet_id,sheet_name,progress,result,error,created_at,updated_at)")).
		WithArgs("a1b2c3d4", "queued", "sheet-1", "Sheet1", []byte("null"), []byte("null"), "", testNow, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := store.CreateJob(context.Background(), "a1b2c3d4", sheetsim.JobMetadata{SpreadsheetID: "sheet-1", SheetName: "Sheet1"})
	require.NoError(t, err)
	require.Equal(t, sheetsim.JobStatusQueued, job.Status)
	require.Equal(t, testNow, job.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobDuplicate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO similarity_jobs").
		WithArgs("a1b2c3d4", "queued", "", "", pgxmock.AnyArg(), pgxmock.AnyArg(), "", testNow, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	_, err := store.CreateJob(context.Background(), "a1b2c3d4", sheetsim.JobMetadata{})
	require.ErrorIs(t, err, sheetsim.ErrJobExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobDecodesJSONColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, status, spreadsheet_id, sheet_name, progress, result, error, created_at, updated_at FROM similarity_jobs WHERE id = $1")).
		WithArgs("a1b2c3d4").
		WillReturnRows(jobRows().AddRow(
			"a1b2c3d4", "completed", "sheet-1", "Sheet1",
			[]byte(`{"stage":"processing","total":3,"current":3,"row":5}`),
			[]byte(`{"status":"complete","processed":3,"success":2,"failed":1,"sheet":"Sheet1"}`),
			"", testNow, testNow.Add(time.Minute),
		))

	job, err := store.GetJob(context.Background(), "a1b2c3d4")
	require.NoError(t, err)
	require.Equal(t, sheetsim.JobStatusCompleted, job.Status)
	require.Equal(t, 5, job.Progress.Row)
	require.Equal(t, &sheetsim.Result{Status: "complete", Processed: 3, Success: 2, Failed: 1, Sheet: "Sheet1"}, job.Result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM similarity_jobs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, sheetsim.ErrJobNotFound)
}

func TestUpdateJobMergesUnderLock(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM similarity_jobs WHERE id = $1 FOR UPDATE")).
		WithArgs("a1b2c3d4").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("queued"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE similarity_jobs SET status = $1, progress = $2, updated_at = $3 WHERE id = $4")).
		WithArgs("processing", []byte(`{"stage":"initializing","current":0}`), testNow, "a1b2c3d4").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.UpdateJob(context.Background(), "a1b2c3d4", sheetsim.JobUpdate{
		Status:   sheetsim.JobStatusProcessing,
		Progress: &sheetsim.Progress{Stage: sheetsim.StageInitializing},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobUnknownIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM similarity_jobs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	require.NoError(t, store.UpdateJob(context.Background(), "missing", sheetsim.JobUpdate{Status: sheetsim.JobStatusCompleted}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobRejectsTerminal(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM similarity_jobs").
			WithArgs("a1b2c3d4").
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("failed"))
		mock.ExpectRollback()
	}

	err := store.UpdateJob(context.Background(), "a1b2c3d4", sheetsim.JobUpdate{Status: sheetsim.JobStatusCompleted})
	require.ErrorIs(t, err, sheetsim.ErrInvalidTransition)
	err = store.UpdateJob(context.Background(), "a1b2c3d4", sheetsim.JobUpdate{Progress: &sheetsim.Progress{Stage: "late"}})
	require.ErrorIs(t, err, sheetsim.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobExecFailureRollsBack(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	msg := "boom"
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM similarity_jobs").
		WithArgs("a1b2c3d4").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("processing"))
	mock.ExpectExec("UPDATE similarity_jobs SET").
		WithArgs("failed", "boom", testNow, "a1b2c3d4").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.UpdateJob(context.Background(), "a1b2c3d4", sheetsim.JobUpdate{Status: sheetsim.JobStatusFailed, Error: &msg})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM similarity_jobs ORDER BY created_at DESC, id DESC LIMIT 20")).
		WillReturnRows(jobRows().
			AddRow("bbbb0002", "queued", "s", "Sheet1", []byte("null"), []byte("null"), "", testNow, testNow).
			AddRow("aaaa0001", "failed", "s", "Sheet1", []byte("null"), []byte("null"), "no access", testNow.Add(-time.Hour), testNow))

	jobs, err := store.ListJobs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "bbbb0002", jobs[0].ID)
	require.Nil(t, jobs[0].Progress)
	require.Equal(t, "no access", jobs[1].Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvictJobsDeletesOldRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM similarity_jobs WHERE created_at < $1")).
		WithArgs(testNow.Add(-24 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	removed, err := store.EvictJobs(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 4, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS similarity_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
