package worker

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"

	"so-faas-demo/internal/fdpass"
	"so-faas-demo/internal/http11"
)

// outputCap acota la captura de stdout/err de la función.
const outputCap = 8 * 1024

// Worker atiende un socket local por proceso: recibe el handoff
// (descriptor del cliente + metadata), ejecuta el runtime en un hijo
// con stdio entubado y sintetiza la respuesta HTTP sobre el descriptor
// recibido. Atiende una conexión a la vez; el paralelismo del pool son
// N procesos worker, no concurrencia interna.
//
// El campo timeout del descriptor es consultivo: el layout fijo del
// handoff no lo transporta, así que acá no hay kill por reloj.
type Worker struct {
	id   int
	sock string

	mu       sync.Mutex
	requests uint32
	errors   uint32
	busy     bool

	log *logrus.Entry
}

// New crea el worker id escuchando en sock.
func New(id int, sock string) *Worker {
	return &Worker{
		id:   id,
		sock: sock,
		log:  logrus.WithFields(logrus.Fields{"component": "worker", "worker": id}),
	}
}

// State entrega los contadores vivos para el emisor de telemetría.
func (w *Worker) State() (requests, errs uint32, busy bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests, w.errors, w.busy
}

func (w *Worker) incErrors() {
	w.mu.Lock()
	w.errors++
	w.mu.Unlock()
}

func (w *Worker) setBusy(b bool) {
	w.mu.Lock()
	w.busy = b
	w.mu.Unlock()
}

// Run liga el socket y acepta conexiones del gateway hasta que ctx se
// cancele.
func (w *Worker) Run(ctx context.Context) error {
	_ = os.Remove(w.sock)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: w.sock, Net: "unix"})
	if err != nil {
		return err
	}
	defer func() {
		ln.Close()
		os.Remove(w.sock)
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	w.log.WithFields(logrus.Fields{"sock": w.sock, "pid": os.Getpid()}).Info("worker ready")

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		w.handleConn(conn)
	}
}

// handleConn procesa un handoff completo: desde el recv del descriptor
// hasta el close del cliente.
func (w *Worker) handleConn(gw *net.UnixConn) {
	fd, payload, err := fdpass.RecvFD(gw, fdpass.RequestSize)
	if err != nil {
		w.log.WithError(err).Warn("handoff receive failed")
		w.incErrors()
		gw.Close()
		return
	}
	req, err := fdpass.UnmarshalRequest(payload)
	if err != nil {
		w.log.WithError(err).Warn("handoff metadata malformed")
		w.incErrors()
		unixClose(fd)
		gw.Close()
		return
	}
	// ya tenemos el descriptor del cliente; la conexión con el gateway
	// no hace falta más
	gw.Close()

	w.mu.Lock()
	w.busy = true
	w.requests++
	w.mu.Unlock()

	client := os.NewFile(uintptr(fd), "client")
	w.log.WithFields(logrus.Fields{"runtime": req.Runtime, "module": req.Module}).
		Info("executing function")

	w.execute(req, client)

	client.Close()
	w.setBusy(false)
}

// commandFor mapea el runtime al comando de ejecución. Los runtimes
// compilados ya son wasm en este punto; solo php y wasm se ejecutan.
func commandFor(runtime, module string) []string {
	switch runtime {
	case "php":
		return []string{"php", module}
	case "wasm":
		return []string{"wasmer", "run", module}
	default:
		return nil
	}
}

// execute corre el hijo con el cuerpo por stdin y la salida capturada,
// y escribe la respuesta en el descriptor del cliente.
func (w *Worker) execute(req fdpass.WorkerRequest, client *os.File) {
	argv := commandFor(req.Runtime, req.Module)
	if argv == nil {
		out := fmt.Sprintf(`{"error":"Unknown runtime: %s"}`, http11.EscapeJSON(req.Runtime))
		w.respond(client, 127, []byte(out))
		return
	}

	var out boundedBuffer
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(req.Body)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		// equivalente al exec fallido del hijo: error JSON y 127
		w.incErrors()
		w.respond(client, 127, []byte(fmt.Sprintf(
			`{"error":"exec failed: %s"}`, http11.EscapeJSON(err.Error()))))
		return
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		exitCode = -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
	}

	w.log.WithFields(logrus.Fields{"exit_code": exitCode, "output_bytes": out.Len()}).
		Info("child finished")
	w.respond(client, exitCode, out.Bytes())
}

// respond sintetiza la respuesta HTTP según exit code y salida: 200 con
// la salida (JSON directo o envuelta) o 500 con el detalle del fallo.
func (w *Worker) respond(client *os.File, exitCode int, output []byte) {
	if exitCode == 0 && len(output) > 0 {
		trimmed := bytes.TrimLeft(output, " \t\r\n")
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			http11.WriteJSONH(client, 200, string(output), nil)
		} else {
			wrapped := fmt.Sprintf(`{"result":"%s"}`, http11.EscapeJSON(string(output)))
			http11.WriteJSONH(client, 200, wrapped, nil)
		}
		return
	}

	head := output
	if len(head) > 200 {
		head = head[:200]
	}
	body := fmt.Sprintf(
		`{"error":"Function failed","exit_code":%d,"output_bytes":%d,"output":"%s"}`,
		exitCode, len(output), http11.EscapeJSON(string(head)))
	http11.WriteJSONH(client, 500, body, nil)
}

// boundedBuffer captura hasta outputCap bytes y descarta el resto para
// no bloquear al hijo.
type boundedBuffer struct {
	buf bytes.Buffer
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := outputCap - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte { return b.buf.Bytes() }
func (b *boundedBuffer) Len() int      { return b.buf.Len() }

func unixClose(fd int) {
	os.NewFile(uintptr(fd), "drop").Close()
}
