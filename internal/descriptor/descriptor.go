package descriptor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// FunctionDescriptor es el value object que viaja del upload al
// registro y de ahí a la tabla de rutas. Todos los campos vienen del
// JSON almacenado; method/uri quedan vacíos si el JSON no los trae (la
// ruta vive en la clave del store y el lookup no los completa).
type FunctionDescriptor struct {
	Method  string `json:"method,omitempty"`
	URI     string `json:"uri,omitempty"`
	Name    string `json:"name"`
	Runtime string `json:"runtime"`
	Module  string `json:"module"`
	Handler string `json:"handler"`
	Memory  int    `json:"memory"`
	Timeout int    `json:"timeout"`
}

// Runtimes soportados (conjunto cerrado).
var supportedRuntimes = map[string]bool{
	"c": true, "cpp": true, "c++": true, "rust": true,
	"go": true, "tinygo": true, "python": true, "php": true, "wasm": true,
}

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

// RouteKey compone la clave "<METHOD>:<URI>" tal como vive en el store.
func RouteKey(method, uri string) string {
	return method + ":" + uri
}

// RuntimeSupported indica si rt pertenece al conjunto cerrado.
func RuntimeSupported(rt string) bool { return supportedRuntimes[rt] }

// Ext devuelve la extensión de staging para un runtime.
func Ext(runtime string) string {
	switch runtime {
	case "c":
		return ".c"
	case "cpp", "c++":
		return ".cpp"
	case "rust":
		return ".rs"
	case "go", "tinygo":
		return ".go"
	case "python":
		return ".py"
	case "php":
		return ".php"
	case "wasm":
		return ".wasm"
	default:
		return ".txt"
	}
}

// Parse decodifica el JSON de un descriptor almacenado. Para una ruta
// activa, module y handler no pueden venir vacíos.
func Parse(raw string) (FunctionDescriptor, error) {
	var d FunctionDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, errors.Wrap(err, "descriptor json")
	}
	if d.Module == "" || d.Handler == "" {
		return d, errors.New("descriptor: module and handler are required")
	}
	return d, nil
}

// ValidationError señala el campo que viola las reglas sintácticas del
// descriptor subido; Field termina en el "details" de la respuesta.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validate aplica las reglas sintácticas sobre el descriptor crudo,
// antes de compilar:
//   - el cuerpo empieza con '{'
//   - "runtime" presente, string, del conjunto cerrado
//   - "memory"/"timeout" opcionales, su valor empieza con dígito
//   - "method" opcional, dentro de la lista blanca
func Validate(raw []byte) *ValidationError {
	if len(raw) == 0 {
		return &ValidationError{Field: "descriptor", Msg: "descriptor is empty"}
	}
	if raw[0] != '{' {
		return &ValidationError{Field: "descriptor", Msg: "must be a JSON object starting with '{'"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &ValidationError{Field: "descriptor", Msg: "malformed JSON"}
	}

	rt, ok := fields["runtime"]
	if !ok {
		return &ValidationError{Field: "runtime", Msg: "missing required field"}
	}
	var rtVal string
	if err := json.Unmarshal(rt, &rtVal); err != nil {
		return &ValidationError{Field: "runtime", Msg: "must be a string"}
	}
	if !supportedRuntimes[rtVal] {
		return &ValidationError{
			Field: "runtime",
			Msg:   "unsupported runtime '" + rtVal + "' (supported: c, cpp, c++, rust, go, tinygo, python, php, wasm)",
		}
	}

	for _, f := range []string{"memory", "timeout"} {
		v, ok := fields[f]
		if !ok {
			continue
		}
		s := strings.TrimSpace(string(v))
		if s == "" || s[0] < '0' || s[0] > '9' {
			return &ValidationError{Field: f, Msg: "must be a number"}
		}
	}

	if m, ok := fields["method"]; ok {
		var mVal string
		if err := json.Unmarshal(m, &mVal); err != nil || !allowedMethods[mVal] {
			return &ValidationError{Field: "method", Msg: "must be one of GET, POST, PUT, DELETE, PATCH"}
		}
	}

	return nil
}

// Field extrae un campo string del descriptor crudo ("" si falta).
func Field(raw []byte, name string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	v, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}
