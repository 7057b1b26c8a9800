package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"so-faas-demo/internal/registry"
)

func newDriver(t *testing.T) *Driver {
	t.Helper()
	base := t.TempDir()
	d := New(
		filepath.Join(base, "progfile"),
		filepath.Join(base, "functions"),
		filepath.Join(base, "faas_db"),
		filepath.Join(base, "faas_meta.db"),
		"functions",
	)
	require.NoError(t, os.MkdirAll(d.StagingDir, 0o755))
	return d
}

func stage(t *testing.T, d *Driver, id, ext, code, desc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(d.StagingDir, id+ext), []byte(code), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(d.StagingDir, id+"_descriptor.json"), []byte(desc), 0o644))
}

func TestCompile_WasmCopiesVerbatimAndRegisters(t *testing.T) {
	d := newDriver(t)
	id := "func_100_0_42"
	stage(t, d, id, ".wasm", "\x00asm-bytes", `{"runtime":"wasm","method":"GET"}`)

	require.NoError(t, d.Compile(id))

	// artefacto compilado
	mod, err := os.ReadFile(filepath.Join(d.OutBase, id, "module.wasm"))
	require.NoError(t, err)
	require.Equal(t, "\x00asm-bytes", string(mod))

	// sidecar
	side, err := os.ReadFile(filepath.Join(d.DBDir, id+".json"))
	require.NoError(t, err)
	require.Contains(t, string(side), `"runtime":"wasm"`)
	require.Contains(t, string(side), `"memory":128`)
	require.Contains(t, string(side), `"timeout":5`)

	// fila del registro con method del descriptor
	st, err := registry.Open(d.DBPath, d.Table)
	require.NoError(t, err)
	defer st.Close()
	rows, err := st.ScanAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "GET:/api/"+id, rows[0].K)
	require.NotZero(t, rows[0].Updated)
}

func TestCompile_DefaultMethodIsPOST(t *testing.T) {
	d := newDriver(t)
	id := "func_100_1_42"
	stage(t, d, id, ".wasm", "mod", `{"runtime":"wasm"}`)

	require.NoError(t, d.Compile(id))

	st, err := registry.Open(d.DBPath, d.Table)
	require.NoError(t, err)
	defer st.Close()
	rows, err := st.ScanAll()
	require.NoError(t, err)
	require.Equal(t, "POST:/api/"+id, rows[0].K)
}

func TestCompile_MissingStagedFiles(t *testing.T) {
	d := newDriver(t)

	err := d.Compile("func_nope")
	require.Error(t, err)
	ce, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, codeMissingFiles, ce.Code)

	// solo descriptor, sin código
	id := "func_100_2_42"
	require.NoError(t, os.WriteFile(
		filepath.Join(d.StagingDir, id+"_descriptor.json"), []byte(`{"runtime":"wasm"}`), 0o644))
	err = d.Compile(id)
	require.Error(t, err)
}

func TestCompile_UnsupportedRuntime(t *testing.T) {
	d := newDriver(t)
	id := "func_100_3_42"
	stage(t, d, id, ".txt", "x", `{"runtime":"cobol"}`)

	err := d.Compile(id)
	require.Error(t, err)
	ce, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, codeUnsupported, ce.Code)
}

func TestCompile_MissingToolchainIsFailure(t *testing.T) {
	d := newDriver(t)
	id := "func_100_4_42"
	stage(t, d, id, ".c", "int main(){}", `{"runtime":"c"}`)

	// emcc no existe en el entorno de test: debe fallar con código
	err := d.Compile(id)
	require.Error(t, err)
	_, ok := err.(*Error)
	require.True(t, ok)
}

func TestCompile_LeavesStagingFiles(t *testing.T) {
	d := newDriver(t)
	id := "func_100_5_42"
	stage(t, d, id, ".wasm", "mod", `{"runtime":"wasm"}`)

	require.NoError(t, d.Compile(id))

	entries, err := os.ReadDir(d.StagingDir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "staging files must survive compilation")
}
