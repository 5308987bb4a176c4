package postgresql

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/manifest-network/aexplorer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockHandler(t *testing.T) (*PostgresOutputHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func testGeneration() *models.Generation {
	return &models.Generation{
		KeyBlock:    &models.Block{Hash: "kh_10", Height: 10},
		MicroBlocks: []string{"mh_a", "mh_b"},
		MicroBlocksDetailed: []*models.Block{
			{Hash: "mh_a", Height: 10, Transactions: []*models.Transaction{
				{Hash: "th_1", BlockHash: "mh_a", BlockHeight: 10},
				{Hash: "th_2", BlockHash: "mh_a", BlockHeight: 10},
			}},
			{Hash: "mh_b", Height: 10, Transactions: []*models.Transaction{}},
		},
		NumTransactions: 2,
	}
}

func TestWriteGeneration(t *testing.T) {
	h, mock := newMockHandler(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api.generations_raw")).
		WithArgs(int64(10), "kh_10", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api.transactions_raw")).
		WithArgs("th_1", int64(10), "mh_a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api.transactions_raw")).
		WithArgs("th_2", int64(10), "mh_a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, h.WriteGeneration(context.Background(), testGeneration()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteGenerationRollsBackOnError(t *testing.T) {
	h, mock := newMockHandler(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api.generations_raw")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := h.WriteGeneration(context.Background(), testGeneration())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write generation 10")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteGenerationRequiresKeyBlock(t *testing.T) {
	h, _ := newMockHandler(t)
	assert.Error(t, h.WriteGeneration(context.Background(), &models.Generation{}))
}

func TestGetLatestGeneration(t *testing.T) {
	h, mock := newMockHandler(t)

	rows := sqlmock.NewRows([]string{"data"}).
		AddRow([]byte(`{"key_block": {"hash": "kh_42", "height": 42}, "micro_blocks": [], "num_transactions": 0}`))
	mock.ExpectQuery(regexp.QuoteMeta(latestGenerationQuery)).WillReturnRows(rows)

	gen, err := h.GetLatestGeneration(context.Background())
	require.NoError(t, err)
	require.NotNil(t, gen)
	assert.Equal(t, uint64(42), gen.Height())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEarliestGenerationEmpty(t *testing.T) {
	h, mock := newMockHandler(t)

	mock.ExpectQuery(regexp.QuoteMeta(earliestGenerationQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	gen, err := h.GetEarliestGeneration(context.Background())
	require.NoError(t, err)
	assert.Nil(t, gen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingGenerationHeights(t *testing.T) {
	h, mock := newMockHandler(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT s.i AS missing_id")).
		WillReturnRows(sqlmock.NewRows([]string{"missing_id"}).AddRow(int64(3)).AddRow(int64(7)))

	heights, err := h.GetMissingGenerationHeights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 7}, heights)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGenerationsFrom(t *testing.T) {
	h, mock := newMockHandler(t)

	mock.ExpectExec(regexp.QuoteMeta(deleteGenerationsQuery)).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, h.DeleteGenerationsFrom(context.Background(), 100))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://user:pw@db:5432/explorer", MigrateURL("postgres://user:pw@db:5432/explorer"))
	assert.Equal(t, "pgx5://db/explorer?sslmode=disable", MigrateURL("postgresql://db/explorer?sslmode=disable"))
	assert.Equal(t, "pgx5://db/explorer", MigrateURL("pgx5://db/explorer"))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
