package snowflake

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/listingwh/pkg/adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	adp := New(nil)
	adp.DB = db
	return adp, mock
}

func TestBuildDSN(t *testing.T) {
	t.Run("requires account", func(t *testing.T) {
		_, err := buildDSN(adapter.Config{Username: "loader", Password: "secret"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "account")
	})

	t.Run("full config", func(t *testing.T) {
		dsn, err := buildDSN(adapter.Config{
			Account:   "myaccount",
			Username:  "loader",
			Password:  "secret",
			Database:  "AIRBNB",
			Schema:    "RAW",
			Warehouse: "COMPUTE_WH",
			Role:      "TRANSFORMER",
		})
		require.NoError(t, err)
		assert.Contains(t, dsn, "loader:secret@")
		assert.Contains(t, dsn, "myaccount.snowflakecomputing.com")
		assert.Contains(t, dsn, "warehouse=COMPUTE_WH")
		assert.Contains(t, dsn, "database=AIRBNB")
		assert.Contains(t, dsn, "role=TRANSFORMER")
	})
}

func TestAdapter_Registry(t *testing.T) {
	factory, ok := adapter.Get("snowflake")
	require.True(t, ok, "snowflake adapter should be registered")

	adp, ok := factory(nil).(*Adapter)
	require.True(t, ok, "factory should return *Adapter")
	assert.Equal(t, "snowflake", adp.Dialect().Name())
}

func TestDialect(t *testing.T) {
	d := NewDialect()

	assert.Equal(t, "value:c13::varchar", d.RawColumn(13))
	assert.Equal(t, "TRY_CAST(value:c13::varchar AS INTEGER)", d.TryCast(d.RawColumn(13), adapter.TypeInt))
	assert.Equal(t, "MEDIAN(price)", d.Median("price"))
}

func TestAdapter_RefreshExternal(t *testing.T) {
	ctx := context.Background()
	adp, mock := newMockAdapter(t)

	mock.ExpectExec(regexp.QuoteMeta("ALTER EXTERNAL TABLE raw.raw_listings REFRESH")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, adp.RefreshExternal(ctx, adapter.RawSource{Table: "raw.raw_listings", Columns: 22}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_RefreshExternal_Error(t *testing.T) {
	ctx := context.Background()
	adp, mock := newMockAdapter(t)

	mock.ExpectExec(regexp.QuoteMeta("ALTER EXTERNAL TABLE raw.raw_census_1 REFRESH")).
		WillReturnError(assert.AnError)

	err := adp.RefreshExternal(ctx, adapter.RawSource{Table: "raw.raw_census_1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "raw.raw_census_1")
}

func TestAdapter_DeclarePrimaryKey(t *testing.T) {
	tests := []struct {
		name     string
		existing int
	}{
		{"fresh table", 0},
		{"constraint from previous run", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adp, mock := newMockAdapter(t)

			mock.ExpectQuery(regexp.QuoteMeta("FROM datawarehouse.dim_host")).
				WillReturnRows(sqlmock.NewRows([]string{"dups", "nulls"}).AddRow(0, 0))
			mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.table_constraints WHERE table_schema = 'DATAWAREHOUSE' AND table_name = 'DIM_HOST' AND constraint_name = 'PK_DIM_HOST'")).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.existing))
			if tt.existing > 0 {
				mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE datawarehouse.dim_host DROP CONSTRAINT pk_dim_host CASCADE")).
					WillReturnResult(sqlmock.NewResult(0, 0))
			}
			mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE datawarehouse.dim_host ADD CONSTRAINT pk_dim_host PRIMARY KEY (host_id)")).
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := adp.DeclarePrimaryKey(ctx, adapter.PrimaryKey{Name: "pk_dim_host", Table: "datawarehouse.dim_host", Column: "host_id"})
			require.NoError(t, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdapter_DeclarePrimaryKey_Duplicates(t *testing.T) {
	ctx := context.Background()
	adp, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM datawarehouse.dim_listing")).
		WillReturnRows(sqlmock.NewRows([]string{"dups", "nulls"}).AddRow(2, 0))

	err := adp.DeclarePrimaryKey(ctx, adapter.PrimaryKey{Name: "pk_dim_listing", Table: "datawarehouse.dim_listing", Column: "listing_id"})

	var cerr *adapter.ConstraintError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, adapter.ConstraintPrimaryKey, cerr.Kind)
	assert.Equal(t, int64(2), cerr.Violations)
	require.NoError(t, mock.ExpectationsWereMet())
}
