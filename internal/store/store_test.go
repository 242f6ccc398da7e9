package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ruslan-Po/final-weather/internal/forecast"
	"github.com/Ruslan-Po/final-weather/internal/store"
)

// ---- mock Querier ----

type mockQuerier struct {
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	beginFn    func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.queryRowFn(ctx, sql, args...)
}
func (m *mockQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return m.queryFn(ctx, sql, args...)
}
func (m *mockQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return m.execFn(ctx, sql, args...)
}
func (m *mockQuerier) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.beginFn(ctx)
}

// ---- mock pgx.Row ----

type fakeRow struct {
	scanFn func(dest ...any) error
}

func (f *fakeRow) Scan(dest ...any) error { return f.scanFn(dest...) }

// ---- mock pgx.Rows ----

type fakeRows struct {
	rows    [][]any
	idx     int
	rowErr  error
	scanErr error
}

func (f *fakeRows) Next() bool                                   { f.idx++; return f.idx <= len(f.rows) }
func (f *fakeRows) Err() error                                   { return f.rowErr }
func (f *fakeRows) Close()                                       {}
func (f *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (f *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (f *fakeRows) RawValues() [][]byte                          { return nil }
func (f *fakeRows) Conn() *pgx.Conn                              { return nil }

func (f *fakeRows) Scan(dest ...any) error {
	if f.scanErr != nil {
		return f.scanErr
	}
	row := f.rows[f.idx-1]
	for i, d := range dest {
		if i >= len(row) {
			break
		}
		switch v := d.(type) {
		case *int:
			*v = row[i].(int)
		case *int64:
			*v = row[i].(int64)
		case *float64:
			*v = row[i].(float64)
		case *string:
			*v = row[i].(string)
		case **time.Time:
			if row[i] == nil {
				*v = nil
			} else {
				t := row[i].(time.Time)
				*v = &t
			}
		case *time.Time:
			*v = row[i].(time.Time)
		}
	}
	return nil
}

// ---- mock pgx.Tx ----

// mockTx records each executed statement so tests can assert on ordering.
type mockTx struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	commitFn   func(ctx context.Context) error
	rollbackFn func(ctx context.Context) error

	executed  []string
	committed bool
	rolled    bool
}

func (t *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.executed = append(t.executed, strings.Join(strings.Fields(sql), " "))
	if t.execFn != nil {
		return t.execFn(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (t *mockTx) Commit(ctx context.Context) error {
	t.committed = true
	if t.commitFn != nil {
		return t.commitFn(ctx)
	}
	return nil
}

func (t *mockTx) Rollback(ctx context.Context) error {
	t.rolled = true
	if t.rollbackFn != nil {
		return t.rollbackFn(ctx)
	}
	return nil
}

// pgx.Tx has many more methods; stub them all out.
func (t *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, nil }
func (t *mockTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *mockTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *mockTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }
func (t *mockTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *mockTx) Conn() *pgx.Conn { return nil }

// ---- mock Invalidator ----

type mockInvalidator struct {
	deleted   []string
	deleteErr map[string]error
}

func (m *mockInvalidator) Delete(ctx context.Context, cityKey string) error {
	if err := m.deleteErr[cityKey]; err != nil {
		return err
	}
	m.deleted = append(m.deleted, cityKey)
	return nil
}

// ---- helpers ----

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

func testSnapshot() *forecast.WeatherSnapshot {
	return &forecast.WeatherSnapshot{
		CityName: "Moscow",
		Coord:    forecast.Coordinates{Lat: 55.75, Lon: 37.61},
		Sunrise:  1699935600,
		Sunset:   1699967700,
		Points: []forecast.ForecastPoint{
			{Time: 1700000000, Temperature: -3.2, ConditionText: "light snow"},
			{Time: 1700010800, Temperature: -2.0, ConditionText: "clear sky"},
		},
	}
}

func newStore(q store.Querier, inv store.Invalidator) *store.FavoriteStore {
	return store.NewWithQuerier(q, inv, stubClock{now: time.Unix(1700000000, 0)})
}

func writeSQLFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// ---- Upsert tests ----

func TestUpsert_ReplacesPointsNotMerges(t *testing.T) {
	tx := &mockTx{}
	q := &mockQuerier{beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil }}

	st := newStore(q, nil)
	city, err := st.Upsert(context.Background(), "moscow", testSnapshot())
	require.NoError(t, err)
	require.NotNil(t, city)

	// One city upsert, one wholesale point delete, then one insert per point.
	require.Len(t, tx.executed, 4)
	assert.Contains(t, tx.executed[0], "INSERT INTO favorite_cities")
	assert.Contains(t, tx.executed[0], "ON CONFLICT (city_key) DO UPDATE")
	assert.Contains(t, tx.executed[1], "DELETE FROM forecast_points")
	assert.Contains(t, tx.executed[2], "INSERT INTO forecast_points")
	assert.Contains(t, tx.executed[3], "INSERT INTO forecast_points")
	assert.True(t, tx.committed)
}

func TestUpsert_ReturnsStoredCity(t *testing.T) {
	tx := &mockTx{}
	q := &mockQuerier{beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil }}

	st := newStore(q, nil)
	city, err := st.Upsert(context.Background(), "moscow", testSnapshot())
	require.NoError(t, err)

	assert.Equal(t, "moscow", city.Key)
	assert.Equal(t, "Moscow", city.DisplayName)
	assert.Equal(t, 55.75, city.Coord.Lat)
	require.NotNil(t, city.CachedAt)
	assert.Equal(t, time.Unix(1700000000, 0), *city.CachedAt)
	assert.Len(t, city.Points, 2)
}

func TestUpsert_ExecErrorRollsBack(t *testing.T) {
	tx := &mockTx{execFn: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "forecast_points") {
			return pgconn.CommandTag{}, fmt.Errorf("disk full")
		}
		return pgconn.CommandTag{}, nil
	}}
	q := &mockQuerier{beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil }}

	st := newStore(q, nil)
	_, err := st.Upsert(context.Background(), "moscow", testSnapshot())
	require.Error(t, err)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolled)
}

func TestUpsert_BeginError(t *testing.T) {
	q := &mockQuerier{beginFn: func(_ context.Context) (pgx.Tx, error) {
		return nil, fmt.Errorf("pool exhausted")
	}}

	st := newStore(q, nil)
	_, err := st.Upsert(context.Background(), "moscow", testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beginning upsert")
}

// ---- Get tests ----

func cityRowValues() []any {
	cached := time.Unix(1700000000, 0)
	return []any{"moscow", "Moscow", 55.75, 37.61, int64(1699935600), int64(1699967700), cached}
}

func pointRowValues(ts int64, temp float64, text string) []any {
	return []any{ts, temp, temp - 1, temp + 1, temp - 5, 86, 1021, 4.2, 250, 7.1, 9000, 600, text}
}

func TestGet_Found(t *testing.T) {
	q := &mockQuerier{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFn: (&fakeRows{rows: [][]any{cityRowValues()}, idx: 1}).Scan}
		},
		queryFn: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
			return &fakeRows{rows: [][]any{
				pointRowValues(1700000000, -3.2, "light snow"),
				pointRowValues(1700010800, -2.0, "clear sky"),
			}}, nil
		},
	}

	st := newStore(q, nil)
	city, err := st.Get(context.Background(), "moscow")
	require.NoError(t, err)
	require.NotNil(t, city)

	assert.Equal(t, "Moscow", city.DisplayName)
	require.Len(t, city.Points, 2)
	assert.Equal(t, int64(1700000000), city.Points[0].Time)
	assert.Equal(t, "light snow", city.Points[0].ConditionText)
}

func TestGet_NotFound(t *testing.T) {
	q := &mockQuerier{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}

	st := newStore(q, nil)
	city, err := st.Get(context.Background(), "atlantis")
	require.NoError(t, err)
	assert.Nil(t, city)
}

func TestGet_DBError(t *testing.T) {
	q := &mockQuerier{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFn: func(dest ...any) error { return fmt.Errorf("connection reset") }}
		},
	}

	st := newStore(q, nil)
	_, err := st.Get(context.Background(), "moscow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying city")
}

func TestGetByCoordinates_NotFound(t *testing.T) {
	q := &mockQuerier{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}

	st := newStore(q, nil)
	city, err := st.GetByCoordinates(context.Background(), 1.0, 2.0)
	require.NoError(t, err)
	assert.Nil(t, city)
}

// ---- ListAll / IsTracked / CurrentWeather ----

func TestListAll(t *testing.T) {
	var gotSQL string
	q := &mockQuerier{
		queryFn: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
			gotSQL = sql
			return &fakeRows{rows: [][]any{cityRowValues()}}, nil
		},
	}

	st := newStore(q, nil)
	cities, err := st.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, cities, 1)
	assert.Equal(t, "moscow", cities[0].Key)
	assert.Contains(t, gotSQL, "ORDER BY position ASC")
}

func TestListAll_Empty(t *testing.T) {
	q := &mockQuerier{
		queryFn: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
			return &fakeRows{}, nil
		},
	}

	st := newStore(q, nil)
	cities, err := st.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cities)
}

func TestListAll_RowsErr(t *testing.T) {
	q := &mockQuerier{
		queryFn: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
			return &fakeRows{rowErr: fmt.Errorf("rows iteration error")}, nil
		},
	}

	st := newStore(q, nil)
	_, err := st.ListAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterating")
}

func TestIsTracked(t *testing.T) {
	q := &mockQuerier{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFn: func(dest ...any) error {
				*dest[0].(*bool) = true
				return nil
			}}
		},
	}

	st := newStore(q, nil)
	tracked, err := st.IsTracked(context.Background(), "moscow")
	require.NoError(t, err)
	assert.True(t, tracked)
}

func TestCurrentWeather_NoPoints(t *testing.T) {
	q := &mockQuerier{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFn: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}

	st := newStore(q, nil)
	p, err := st.CurrentWeather(context.Background(), "moscow")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCurrentWeather_Found(t *testing.T) {
	var gotSQL string
	q := &mockQuerier{
		queryRowFn: func(_ context.Context, sql string, _ ...any) pgx.Row {
			gotSQL = sql
			return &fakeRow{scanFn: (&fakeRows{rows: [][]any{pointRowValues(1700000000, -3.2, "light snow")}, idx: 1}).Scan}
		},
	}

	st := newStore(q, nil)
	p, err := st.CurrentWeather(context.Background(), "moscow")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, -3.2, p.Temperature)
	assert.Contains(t, gotSQL, "ORDER BY ts ASC")
	assert.Contains(t, gotSQL, "LIMIT 1")
}

// ---- Remove / RemoveAll ----

func TestRemove_DeletesPointsInSameTransaction(t *testing.T) {
	tx := &mockTx{}
	q := &mockQuerier{beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil }}

	st := newStore(q, nil)
	require.NoError(t, st.Remove(context.Background(), "moscow"))

	require.Len(t, tx.executed, 2)
	assert.Contains(t, tx.executed[0], "DELETE FROM forecast_points")
	assert.Contains(t, tx.executed[1], "DELETE FROM favorite_cities")
	assert.True(t, tx.committed)
}

func TestRemoveAll(t *testing.T) {
	tx := &mockTx{}
	q := &mockQuerier{
		queryFn: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
			return &fakeRows{rows: [][]any{cityRowValues()}}, nil
		},
		beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil },
	}

	inv := &mockInvalidator{deleteErr: map[string]error{}}
	st := newStore(q, inv)
	require.NoError(t, st.RemoveAll(context.Background()))
	require.Len(t, tx.executed, 2)
	assert.Equal(t, "DELETE FROM forecast_points", tx.executed[0])
	assert.Equal(t, "DELETE FROM favorite_cities", tx.executed[1])

	// Every removed key becomes dirty and flushes as an invalidation.
	require.NoError(t, st.Flush(context.Background()))
	assert.Equal(t, []string{"moscow"}, inv.deleted)
}

// ---- Flush ----

func TestFlush_InvalidatesDirtyKeysOnce(t *testing.T) {
	tx := &mockTx{}
	q := &mockQuerier{beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil }}
	inv := &mockInvalidator{deleteErr: map[string]error{}}

	st := newStore(q, inv)
	_, err := st.Upsert(context.Background(), "moscow", testSnapshot())
	require.NoError(t, err)
	_, err = st.Upsert(context.Background(), "moscow", testSnapshot())
	require.NoError(t, err)

	require.NoError(t, st.Flush(context.Background()))
	assert.Equal(t, []string{"moscow"}, inv.deleted)

	// A second flush with nothing dirty touches nothing.
	require.NoError(t, st.Flush(context.Background()))
	assert.Equal(t, []string{"moscow"}, inv.deleted)
}

func TestFlush_FailedKeysStayDirty(t *testing.T) {
	tx := &mockTx{}
	q := &mockQuerier{beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil }}
	inv := &mockInvalidator{deleteErr: map[string]error{"moscow": fmt.Errorf("redis down")}}

	st := newStore(q, inv)
	_, err := st.Upsert(context.Background(), "moscow", testSnapshot())
	require.NoError(t, err)

	require.Error(t, st.Flush(context.Background()))

	// The key is retried on the next flush once the cache recovers.
	delete(inv.deleteErr, "moscow")
	require.NoError(t, st.Flush(context.Background()))
	assert.Equal(t, []string{"moscow"}, inv.deleted)
}

func TestFlush_NilInvalidatorIsNoOp(t *testing.T) {
	tx := &mockTx{}
	q := &mockQuerier{beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil }}

	st := newStore(q, nil)
	_, err := st.Upsert(context.Background(), "moscow", testSnapshot())
	require.NoError(t, err)
	require.NoError(t, st.Flush(context.Background()))
}

// ---- migrations ----

type mockMigrationPool struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockMigrationPool) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.beginFn(ctx)
}

func TestRunMigrations_MissingDir(t *testing.T) {
	err := store.RunMigrations(context.Background(), nil, "/nonexistent/dir")
	require.Error(t, err)
}

func TestRunMigrations_EmptyDir(t *testing.T) {
	err := store.RunMigrations(context.Background(), nil, t.TempDir())
	require.NoError(t, err)
}

func TestRunMigrations_SortsFilesLexicographically(t *testing.T) {
	dir := t.TempDir()
	writeSQLFile(t, dir, "002_b.sql", "SELECT 2;")
	writeSQLFile(t, dir, "001_a.sql", "SELECT 1;")

	tx := &mockTx{}
	pool := &mockMigrationPool{beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil }}

	require.NoError(t, store.RunMigrations(context.Background(), pool, dir))
	assert.Equal(t, []string{"SELECT 1;", "SELECT 2;"}, tx.executed)
}

func TestRunMigrations_ExecErrorRollsBack(t *testing.T) {
	dir := t.TempDir()
	writeSQLFile(t, dir, "001_a.sql", "INVALID SQL;")

	tx := &mockTx{execFn: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, fmt.Errorf("syntax error")
	}}
	pool := &mockMigrationPool{beginFn: func(_ context.Context) (pgx.Tx, error) { return tx, nil }}

	err := store.RunMigrations(context.Background(), pool, dir)
	require.Error(t, err)
	assert.True(t, tx.rolled)
}

// ---- Connect ----

func TestConnect_BadURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := store.Connect(ctx, "postgres://invalid-host-xyz:5432/db?sslmode=disable")
	require.Error(t, err)
}
