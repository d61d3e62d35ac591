package refresh

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expectStructuralFingerprint queues the five component queries. The marker
// flows into the hashed rows, so different markers produce different
// fingerprints.
func expectStructuralFingerprint(mock sqlmock.Sqlmock, marker string) {
	mock.ExpectQuery("SELECT TABLE_NAME, TABLE_TYPE").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}).
			AddRow("authors", marker))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME"}).
			AddRow("authors", "id"))
	mock.ExpectQuery("CONSTRAINT_NAME = 'PRIMARY'").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "ORDINAL"}).
			AddRow("authors", "id", "1"))
	mock.ExpectQuery("REFERENCED_TABLE_NAME IS NOT NULL").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "CONSTRAINT_NAME"}))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.STATISTICS").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "INDEX_NAME"}).
			AddRow("authors", "PRIMARY"))
}

func expectIntrospection(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT TABLE_NAME, TABLE_ROWS, TABLE_COMMENT").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_ROWS", "TABLE_COMMENT"}).
			AddRow("authors", 10, ""))
	mock.ExpectQuery("ORDINAL_POSITION, IS_NULLABLE").
		WillReturnRows(sqlmock.NewRows([]string{
			"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE",
			"ORDINAL_POSITION", "IS_NULLABLE", "COLUMN_DEFAULT", "COLUMN_COMMENT",
		}).
			AddRow("authors", "id", "bigint", "bigint(20)", 1, "NO", nil, "").
			AddRow("authors", "name", "varchar", "varchar(255)", 2, "YES", nil, ""))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE").
		WillReturnRows(sqlmock.NewRows([]string{
			"TABLE_NAME", "CONSTRAINT_NAME", "COLUMN_NAME",
			"REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME",
		}).
			AddRow("authors", "PRIMARY", "id", nil, nil))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.STATISTICS").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "INDEX_NAME", "NON_UNIQUE", "COLUMN_NAME"}).
			AddRow("authors", "PRIMARY", 0, "id"))
}

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	expectStructuralFingerprint(mock, "v1")
	expectIntrospection(mock)

	m, err := NewManager(context.Background(), Config{DB: db, Database: "testdb"})
	require.NoError(t, err)
	return m, mock
}

func TestNewManagerBuildsInitialSnapshot(t *testing.T) {
	m, mock := newTestManager(t)
	require.NoError(t, mock.ExpectationsWereMet())

	snap := m.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Contains(t, snap.Schema.QueryType().Fields(), "authors")
	assert.NotNil(t, m.Handler())
}

func TestRefreshNowSwapsSnapshot(t *testing.T) {
	m, mock := newTestManager(t)

	expectStructuralFingerprint(mock, "v2")
	expectIntrospection(mock)

	require.NoError(t, m.RefreshNow(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, uint64(2), m.Snapshot().Version)
}

func TestRefreshOnceSkipsRebuildWhenUnchanged(t *testing.T) {
	m, mock := newTestManager(t)

	// Same marker, same fingerprint: only the component queries may run.
	expectStructuralFingerprint(mock, "v1")

	interval := m.minInterval
	m.refreshOnce(context.Background(), &interval, "poll")

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, uint64(1), m.Snapshot().Version)
	assert.Greater(t, interval, m.minInterval, "quiet catalog backs the poll interval off")
}

func TestRefreshOnceKeepsSnapshotOnBuildFailure(t *testing.T) {
	m, mock := newTestManager(t)

	expectStructuralFingerprint(mock, "v2")
	mock.ExpectQuery("SELECT TABLE_NAME, TABLE_ROWS, TABLE_COMMENT").
		WillReturnError(fmt.Errorf("connection reset"))

	interval := 2 * m.minInterval
	m.refreshOnce(context.Background(), &interval, "poll")

	assert.Equal(t, uint64(1), m.Snapshot().Version, "failed rebuild keeps the previous snapshot")
	assert.Equal(t, m.minInterval, interval, "failure resets the poll interval")
}

func TestRefreshOnceSwapsOnCatalogChange(t *testing.T) {
	m, mock := newTestManager(t)

	expectStructuralFingerprint(mock, "v2")
	expectIntrospection(mock)

	interval := 2 * m.minInterval
	m.refreshOnce(context.Background(), &interval, "notify")

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, uint64(2), m.Snapshot().Version)
	assert.Equal(t, m.minInterval, interval, "a swap resets the poll interval")
}

func TestNotifyCatalogChangedTriggersRefresh(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	expectStructuralFingerprint(mock, "v1")
	expectIntrospection(mock)

	// The poll interval is long enough that only the notification can trigger
	// the second refresh.
	m, err := NewManager(context.Background(), Config{
		DB:          db,
		Database:    "testdb",
		MinInterval: time.Hour,
		MaxInterval: 2 * time.Hour,
	})
	require.NoError(t, err)

	expectStructuralFingerprint(mock, "v2")
	expectIntrospection(mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	m.NotifyCatalogChanged()

	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return snap != nil && snap.Version == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, m.Wait(context.Background()))
}

func TestLightweightFingerprintFallback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery("SELECT TABLE_NAME, TABLE_TYPE").
		WillReturnError(fmt.Errorf("access denied"))
	mock.ExpectQuery("CREATE_TIME").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "CREATE_TIME", "UPDATE_TIME"}).
			AddRow("authors", "2026-01-01 00:00:00", ""))
	expectIntrospection(mock)

	m, err := NewManager(context.Background(), Config{DB: db, Database: "testdb"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, fingerprintLightweight, m.currentState().fingerprint.Mode)
}

func TestHandlerNotReady(t *testing.T) {
	m := &Manager{}

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNextInterval(t *testing.T) {
	minI := 30 * time.Second
	maxI := 5 * time.Minute

	assert.Equal(t, minI, nextInterval(time.Second, minI, maxI))
	assert.Equal(t, 45*time.Second, nextInterval(minI, minI, maxI))
	assert.Equal(t, maxI, nextInterval(4*time.Minute, minI, maxI))
}
