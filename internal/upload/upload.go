package upload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"so-faas-demo/internal/compiler"
	"so-faas-demo/internal/descriptor"
	"so-faas-demo/internal/resp"
)

// Pipeline procesa POST /upload: multipart → validación → staging bajo
// id único → compilación → respuesta JSON. El directorio de staging se
// comparte entre uploads concurrentes; la unicidad del id evita
// colisiones y nunca se limpia.
type Pipeline struct {
	stagingDir string
	interval   time.Duration
	compile    func(id string) error
	counter    atomic.Uint64 // contador propio del pipeline, no global
	log        *logrus.Entry
}

// NewPipeline arma el pipeline; compile es el driver (inyectado para
// que los tests no necesiten toolchains).
func NewPipeline(stagingDir string, interval time.Duration, compile func(string) error) *Pipeline {
	return &Pipeline{
		stagingDir: stagingDir,
		interval:   interval,
		compile:    compile,
		log:        logrus.WithField("component", "upload"),
	}
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details"`
}

type successBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	URI     string `json:"uri"`
	Method  string `json:"method"`
	Info    string `json:"info"`
}

func errResult(message, details string) resp.Result {
	b, _ := json.Marshal(errorBody{Status: "error", Message: message, Details: details})
	return resp.Result{Status: 500, Body: string(b), JSON: true}
}

// Handle consume un POST /upload completo ya parseado (content type y
// cuerpo acotado).
func (p *Pipeline) Handle(contentType string, body []byte) resp.Result {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" {
		return errResult("Invalid upload", "Content-Type must be multipart/form-data")
	}
	boundary := params["boundary"]
	if boundary == "" {
		return errResult("Invalid upload", "No boundary in Content-Type")
	}

	code, desc, verr := parseParts(body, boundary)
	if verr != nil {
		return *verr
	}

	// validación sintáctica antes de tocar disco
	if ve := descriptor.Validate(desc); ve != nil {
		p.log.WithField("field", ve.Field).Info("descriptor rejected")
		return errResult("Invalid descriptor", ve.Error())
	}

	id := p.mintID()
	if err := p.stage(id, code, desc); err != nil {
		p.log.WithError(err).Error("staging failed")
		return errResult("Upload failed", "could not stage files")
	}
	p.log.WithField("id", id).Info("upload staged")

	if err := p.compile(id); err != nil {
		if ce, ok := err.(*compiler.Error); ok {
			return errResult("Compilation failed", fmt.Sprintf("error code: %d", ce.Code))
		}
		return errResult("Compilation failed", err.Error())
	}

	method := descriptor.Field(desc, "method")
	if method == "" {
		method = "POST"
	}
	out, _ := json.Marshal(successBody{
		Status:  "success",
		Message: "Function compiled and deployed",
		URI:     "/api/" + id,
		Method:  method,
		Info:    fmt.Sprintf("Will be available in <%d seconds", int(p.interval.Seconds())),
	})
	return resp.Result{Status: 200, Body: string(out), JSON: true}
}

// parseParts recorre el multipart y exige exactamente una parte "code"
// y una "descriptor"; cualquier otra combinación se rechaza.
func parseParts(body []byte, boundary string) (code, desc []byte, fail *resp.Result) {
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			r := errResult("Invalid upload", "Failed to parse multipart upload")
			return nil, nil, &r
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			r := errResult("Invalid upload", "Failed to read multipart part")
			return nil, nil, &r
		}
		switch part.FormName() {
		case "code":
			if code != nil {
				r := errResult("Missing code or descriptor file", "duplicate part: code")
				return nil, nil, &r
			}
			code = data
		case "descriptor":
			if desc != nil {
				r := errResult("Missing code or descriptor file", "duplicate part: descriptor")
				return nil, nil, &r
			}
			desc = data
		default:
			// partes no reconocidas se ignoran
		}
	}
	if code == nil || desc == nil {
		r := errResult("Missing code or descriptor file", "parts 'code' and 'descriptor' are required")
		return nil, nil, &r
	}
	return code, desc, nil
}

// mintID genera func_<unix>_<n>_<pid corto>; n es monótono por proceso.
func (p *Pipeline) mintID() string {
	n := p.counter.Add(1) - 1
	return fmt.Sprintf("func_%d_%d_%d", time.Now().Unix(), n, os.Getpid()%1000)
}

// stage escribe <id>.<ext> y <id>_descriptor.json bajo el staging dir.
func (p *Pipeline) stage(id string, code, desc []byte) error {
	if err := os.MkdirAll(p.stagingDir, 0o755); err != nil {
		return errors.Wrap(err, "staging dir")
	}
	runtime := descriptor.Field(desc, "runtime")
	ext := descriptor.Ext(runtime)
	if err := os.WriteFile(filepath.Join(p.stagingDir, id+ext), code, 0o644); err != nil {
		return errors.Wrap(err, "staging code")
	}
	return errors.Wrap(
		os.WriteFile(filepath.Join(p.stagingDir, id+"_descriptor.json"), desc, 0o644),
		"staging descriptor")
}
