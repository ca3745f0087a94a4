package etl

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupOrphans(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM fact_sales`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM fact_return`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := NewMaintenance(db, nil).CleanupOrphans(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), deleted["fact_sales"])
	assert.Equal(t, int64(0), deleted["fact_return"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupOrphans_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM fact_sales`).WillReturnError(assert.AnError)

	_, err = NewMaintenance(db, nil).CleanupOrphans(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup fact_sales orphans")
}

func TestPartitionDistribution(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM pg_inherits`).
		WithArgs("fact_sales").
		WillReturnRows(sqlmock.NewRows([]string{"relname", "reltuples"}).
			AddRow("fact_sales_2024_11", int64(120000)).
			AddRow("fact_sales_2024_12", int64(98000)))

	parts, err := NewMaintenance(db, nil).PartitionDistribution(context.Background(), "fact_sales")
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, "fact_sales", parts[0].Parent)
	assert.Equal(t, "fact_sales_2024_11", parts[0].Partition)
	assert.Equal(t, int64(120000), parts[0].Rows)
	assert.Equal(t, int64(98000), parts[1].Rows)
}
