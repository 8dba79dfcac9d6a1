package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quinnhq/dispatch/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_FindByPhone_Unknown(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM service_requests`).
		WithArgs("+15559999999").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.FindServiceRequestByPhone(context.Background(), "+15559999999")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NextPendingJob_EmptyQueue(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM jobs`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	job, err := s.NextPendingJob(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetSelectedQuote_AlreadySelected(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE service_requests SET selected_quote_id`).
		WithArgs("quote-2", string(model.RequestContractorSelected), pgxmock.AnyArg(), "req-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetSelectedQuote(context.Background(), "req-1", "quote-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already selected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RejectOtherPresented(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE quotes SET status = 'rejected'`).
		WithArgs("req-1", "quote-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.RejectOtherPresented(context.Background(), "req-1", "quote-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkJobProcessing_NotPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE jobs SET status = 'processing'`).
		WithArgs(pgxmock.AnyArg(), "job-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.MarkJobProcessing(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PreparedStatementsMirrorQueries(t *testing.T) {
	// The prepared statements only pay off when the method bodies issue
	// byte-identical SQL.
	assert.Equal(t, nextPendingJobSQL, preparedStatements["next_pending_job"])
	assert.Equal(t, findByPhoneSQL, preparedStatements["find_by_phone"])
	assert.Equal(t, openQuestionSQL, preparedStatements["open_question"])

	assert.Contains(t, preparedStatements["find_by_phone"], pgRequestColumns)
	assert.Contains(t, preparedStatements["next_pending_job"], pgJobColumns)
}

func TestPostgresStore_OpenQuestion_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM pending_questions`).
		WithArgs("req-1").
		WillReturnError(pgx.ErrNoRows)

	q, err := s.OpenQuestion(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.NoError(t, mock.ExpectationsWereMet())
}
