package audit

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

func sampleEntry() Entry {
	return Entry{
		EntryID:      uuid.NewString(),
		Sequence:     7,
		Timestamp:    time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		RequestID:    uuid.New(),
		Action:       contracts.ActionK8sScaleDeployment,
		Environment:  contracts.EnvironmentDev,
		RequestedBy:  "alice",
		Status:       contracts.StatusSucceeded,
		Detail:       "scaled",
		PreviousHash: "sha256:aa",
		EntryHash:    "sha256:bb",
	}
}

func TestSQLSink_PostgresWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	sink := NewSQLSink(db, DialectPostgres)
	e := sampleEntry()

	mock.ExpectExec(`INSERT INTO action_journal .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10, \$11\)`).
		WithArgs(e.EntryID, int64(7), e.Timestamp, e.RequestID.String(), "k8s.scale_deployment", "dev",
			"alice", "succeeded", "scaled", "sha256:aa", "sha256:bb").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.Write(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_SQLiteUsesQuestionMarks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	sink := NewSQLSink(db, DialectSQLite)
	mock.ExpectExec(`INSERT INTO action_journal .* VALUES \(\?, \?, \?, \?, \?, \?, \?, \?, \?, \?, \?\)`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.Write(context.Background(), sampleEntry()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_WriteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	sink := NewSQLSink(db, DialectPostgres)
	mock.ExpectExec("INSERT INTO action_journal").WillReturnError(errors.New("connection reset"))

	err = sink.Write(context.Background(), sampleEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSQLSink_Init(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS action_journal").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewSQLSink(db, DialectSQLite).Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenSink_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "journal.db")

	sink, err := OpenSink(ctx, "", path)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	j := NewJournal(WithSink(sink))
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, Entry{
			RequestID:   uuid.New(),
			Action:      contracts.ActionDockerLogs,
			Environment: contracts.EnvironmentDev,
			Status:      contracts.StatusRunning,
		})
		require.NoError(t, err)
	}
	require.NoError(t, j.Close(ctx))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM action_journal").Scan(&count))
	assert.Equal(t, 3, count)

	var head string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT entry_hash FROM action_journal ORDER BY sequence DESC LIMIT 1").Scan(&head))
	assert.Equal(t, j.ChainHead(), head)
}

func TestOpenSink_NothingConfigured(t *testing.T) {
	_, err := OpenSink(context.Background(), "", "")
	require.Error(t, err)
}
