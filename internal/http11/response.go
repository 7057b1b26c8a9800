package http11

import (
	"fmt"
	"io"
	"maps"
	"strings"
	"time"
)

// write compone una respuesta HTTP/1.1 con Content-Length y
// Connection: close (sin keep-alive ni chunked). Acepta cabeceras
// adicionales (trazabilidad) que se mezclan con las estándar.
func write(w io.Writer, status int, contentType string, body string, extra map[string]string) {
	headers := map[string]string{
		"Date":           time.Now().UTC().Format(time.RFC1123),
		"Content-Type":   contentType,
		"Content-Length": fmt.Sprintf("%d", len(body)),
		"Connection":     "close",
		"Server":         "so-faas/0.1",
	}
	if extra != nil {
		maps.Copy(headers, extra)
	}

	io.WriteString(w, fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, statusText(status)))
	for k, v := range headers {
		io.WriteString(w, fmt.Sprintf("%s: %s\r\n", k, v))
	}
	io.WriteString(w, "\r\n")
	io.WriteString(w, body)
}

// WritePlainH escribe texto plano con cabeceras extra.
func WritePlainH(w io.Writer, status int, body string, extra map[string]string) {
	write(w, status, "text/plain; charset=utf-8", body, extra)
}

// WriteJSONH escribe un JSON ya serializado con cabeceras extra.
func WriteJSONH(w io.Writer, status int, json string, extra map[string]string) {
	write(w, status, "application/json", json, extra)
}

// WriteHTMLH escribe una página HTML con cabeceras extra.
func WriteHTMLH(w io.Writer, status int, body string, extra map[string]string) {
	write(w, status, "text/html; charset=utf-8", body, extra)
}

// WriteErrorJSON serializa el payload uniforme de error:
// {"error":"<code>","detail":"<detalle>"} con el status indicado.
func WriteErrorJSON(w io.Writer, status int, code, detail string, extra map[string]string) {
	payload := fmt.Sprintf("{\"error\":\"%s\",\"detail\":\"%s\"}", code, EscapeJSON(detail))
	WriteJSONH(w, status, payload, extra)
}

// EscapeJSON escapa lo mínimo para incrustar texto capturado en un
// string JSON: backslash, comillas, saltos de línea y tabulaciones.
func EscapeJSON(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		"\"", "\\\"",
		"\n", "\\n",
		"\r", "\\r",
		"\t", "\\t",
	)
	return r.Replace(s)
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return "OK"
	}
}

// SplitTarget separa path y query string de un target
// (p. ej., "/status?verbose=1"). Sin percent-decoding.
func SplitTarget(t string) (path string, query string) {
	path = t
	if i := strings.IndexByte(t, '?'); i >= 0 {
		path = t[:i]
		query = t[i+1:]
	}
	return
}
