package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faas_meta.db")
	st, err := Open(path, "functions")
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema())
	t.Cleanup(func() { st.Close() })
	return st, path
}

func TestUpsertAndScanAll(t *testing.T) {
	st, _ := openTemp(t)

	require.NoError(t, st.Upsert("POST:/echo", `{"runtime":"wasm"}`))
	require.NoError(t, st.Upsert("GET:/ping", `{"runtime":"php"}`))

	rows, err := st.ScanAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.NotZero(t, r.Updated, "store must stamp updated on write")
	}
}

func TestUpsert_ReplacesByKey(t *testing.T) {
	st, _ := openTemp(t)

	require.NoError(t, st.Upsert("POST:/echo", `{"v":1}`))
	require.NoError(t, st.Upsert("POST:/echo", `{"v":2}`))

	rows, err := st.ScanAll()
	require.NoError(t, err)
	require.Len(t, rows, 1, "k is PRIMARY KEY: replace, not duplicate")
	require.Equal(t, `{"v":2}`, rows[0].V)
}

func TestScanSince_FiltersByStamp(t *testing.T) {
	st, _ := openTemp(t)
	require.NoError(t, st.Upsert("a", "1"))

	rows, err := st.ScanAll()
	require.NoError(t, err)
	stamp := rows[0].Updated

	got, err := st.ScanSince(stamp)
	require.NoError(t, err)
	require.Empty(t, got, "updated > ts is strict")

	got, err = st.ScanSince(stamp - 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
