package compiler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"so-faas-demo/internal/descriptor"
	"so-faas-demo/internal/registry"
)

// Driver compila lo staged bajo un id a un module.wasm y registra la
// ruta resultante. Los archivos de staging no se borran: su unicidad
// por id evita conflictos entre uploads concurrentes y quedan para
// inspección del operador.
type Driver struct {
	StagingDir string
	OutBase    string
	DBDir      string
	DBPath     string
	Table      string
	log        *logrus.Entry
}

// New crea el driver con las rutas del plano.
func New(stagingDir, outBase, dbDir, dbPath, table string) *Driver {
	return &Driver{
		StagingDir: stagingDir,
		OutBase:    outBase,
		DBDir:      dbDir,
		DBPath:     dbPath,
		Table:      table,
		log:        logrus.WithField("component", "compiler"),
	}
}

// Error lleva el código numérico de fallo que viaja al cliente.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("compile failed (code %d): %s", e.Code, e.Msg) }

// Códigos de fallo del driver.
const (
	codeMissingFiles = 2
	codeReadDesc     = 3
	codeNoRuntime    = 4
	codeOutDir       = 5
	codeUnsupported  = 6
	codeToolchain    = 7
)

// findStaged localiza descriptor y código por prefijo de id. El
// descriptor es <id>_descriptor.json; el código, cualquier otro archivo
// con el prefijo.
func (d *Driver) findStaged(id string) (codePath, descPath string, err error) {
	entries, err := os.ReadDir(d.StagingDir)
	if err != nil {
		return "", "", &Error{Code: codeMissingFiles, Msg: "staging dir unreadable"}
	}
	descName := id + "_descriptor.json"
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), id) {
			continue
		}
		full := filepath.Join(d.StagingDir, e.Name())
		if e.Name() == descName {
			descPath = full
		} else if codePath == "" {
			codePath = full
		}
	}
	if codePath == "" || descPath == "" {
		return "", "", &Error{Code: codeMissingFiles, Msg: "descriptor or code file not staged for " + id}
	}
	return codePath, descPath, nil
}

// Compile ejecuta la toolchain del runtime, escribe el sidecar JSON y
// upserta la fila del registro. Un fallo al abrir el registro no es
// fatal: el sidecar ya quedó escrito.
func (d *Driver) Compile(id string) error {
	codePath, descPath, err := d.findStaged(id)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(descPath)
	if err != nil {
		return &Error{Code: codeReadDesc, Msg: "descriptor unreadable"}
	}
	runtime := descriptor.Field(raw, "runtime")
	if runtime == "" {
		return &Error{Code: codeNoRuntime, Msg: "descriptor has no runtime"}
	}

	outDir := filepath.Join(d.OutBase, id)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return &Error{Code: codeOutDir, Msg: "cannot create " + outDir}
	}
	outModule := filepath.Join(outDir, "module.wasm")

	if err := d.runToolchain(runtime, codePath, outModule); err != nil {
		return err
	}

	method := descriptor.Field(raw, "method")
	if method == "" {
		method = "POST"
	}
	d.record(id, method, outModule)
	return nil
}

// runToolchain mapea el runtime a su comando externo. wasm se copia
// verbatim; el resto produce el module.wasm con su toolchain.
func (d *Driver) runToolchain(runtime, codePath, outModule string) error {
	var cmd *exec.Cmd
	switch runtime {
	case "c":
		cmd = exec.Command("emcc", "-O2", codePath, "-o", outModule, "--no-entry", "-s", "STANDALONE_WASM")
	case "cpp", "c++":
		cmd = exec.Command("em++", "-O2", codePath, "-o", outModule, "--no-entry", "-s", "STANDALONE_WASM")
	case "rust":
		cmd = exec.Command("rustc", "+stable", "--target=wasm32-wasi", "-O", "-o", outModule, codePath)
	case "go", "tinygo":
		cmd = exec.Command("tinygo", "build", "-o", outModule, "-target", "wasi", codePath)
	case "python":
		cmd = exec.Command("py2wasm", codePath)
	case "php":
		cmd = exec.Command("php-wasm-builder", codePath, "-o", outModule)
	case "wasm":
		if err := copyFile(codePath, outModule); err != nil {
			return &Error{Code: codeToolchain, Msg: "wasm copy failed"}
		}
		return nil
	default:
		return &Error{Code: codeUnsupported, Msg: "unsupported runtime '" + runtime + "'"}
	}

	if runtime == "python" {
		// py2wasm emite el módulo por stdout
		out, err := os.Create(outModule)
		if err != nil {
			return &Error{Code: codeOutDir, Msg: "cannot create module"}
		}
		defer out.Close()
		cmd.Stdout = out
	}

	d.log.WithField("cmd", strings.Join(cmd.Args, " ")).Info("running toolchain")
	if err := cmd.Run(); err != nil {
		code := codeToolchain
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() > 0 {
			code = ee.ExitCode()
		}
		return &Error{Code: code, Msg: "toolchain exited with error"}
	}
	return nil
}

// sidecar es la fila snapshot que queda junto al registro.
type sidecar struct {
	Name    string `json:"name"`
	Runtime string `json:"runtime"`
	Module  string `json:"module"`
	Handler string `json:"handler"`
	Memory  int    `json:"memory"`
	Timeout int    `json:"timeout"`
}

// record escribe el sidecar <db_dir>/<id>.json y upserta la fila
// <method>:/api/<id> en el registro.
func (d *Driver) record(id, method, outModule string) {
	row := sidecar{
		Name:    id,
		Runtime: "wasm",
		Module:  outModule,
		Handler: id,
		Memory:  128,
		Timeout: 5,
	}
	rowJSON, _ := json.Marshal(row)

	if err := os.MkdirAll(d.DBDir, 0o755); err == nil {
		sidePath := filepath.Join(d.DBDir, id+".json")
		if err := os.WriteFile(sidePath, append(rowJSON, '\n'), 0o644); err != nil {
			d.log.WithError(err).Warn("sidecar write failed")
		}
	} else {
		d.log.WithError(err).Warn("cannot create db dir")
	}

	st, err := registry.Open(d.DBPath, d.Table)
	if err != nil {
		d.log.WithError(errors.Wrap(err, "registry")).Warn("registry open failed, sidecar only")
		return
	}
	defer st.Close()
	if err := st.EnsureSchema(); err != nil {
		d.log.WithError(err).Warn("registry schema failed, sidecar only")
		return
	}
	key := descriptor.RouteKey(method, "/api/"+id)
	if err := st.Upsert(key, string(rowJSON)); err != nil {
		d.log.WithError(err).Warn("registry upsert failed, sidecar only")
		return
	}
	d.log.WithField("route", key).Info("route registered")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
