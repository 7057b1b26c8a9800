package metrics

import (
	"context"
	"net"
	"os"
	"time"
)

// StateFn entrega los contadores vivos del worker en el momento de
// emitir: peticiones y errores acumulados, y si está ocupado.
type StateFn func() (requests, errs uint32, busy bool)

// Emitter corre en cada worker: cada intervalo muestrea el proceso,
// suaviza, calcula el score y manda un datagrama al colector. Los
// errores de envío se descartan en silencio (el colector puede no
// estar arriba todavía).
type Emitter struct {
	workerID int
	sock     string
	interval time.Duration
	reader   *Reader
	smoother *Smoother
	weights  Weights
	state    StateFn
	conn     *net.UnixConn
}

// NewEmitter construye el emisor del worker id.
func NewEmitter(id int, sockPath string, interval time.Duration, sm *Smoother, w Weights, state StateFn) *Emitter {
	return &Emitter{
		workerID: id,
		sock:     sockPath,
		interval: interval,
		reader:   NewReader(),
		smoother: sm,
		weights:  w,
		state:    state,
	}
}

// Run emite hasta que ctx se cancele.
func (e *Emitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	defer func() {
		if e.conn != nil {
			e.conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.emitOnce()
		}
	}
}

// emitOnce arma y manda un registro de telemetría.
func (e *Emitter) emitOnce() {
	reqs, errs, busy := e.state()

	cpu, mem, io := e.smoother.Update(
		e.reader.CPUPercent(), e.reader.MemoryMB(), e.reader.IORateKBs())

	t := Telemetry{
		Pid:       int32(os.Getpid()),
		WorkerID:  int32(e.workerID),
		CPU:       float32(cpu),
		Mem:       float32(mem),
		IO:        float32(io),
		Score:     float32(e.weights.Score(cpu, mem, io)),
		Requests:  reqs,
		Errors:    errs,
		Timestamp: NowMillis(),
	}
	if busy {
		t.SetStatus(StatusBusy)
	} else {
		t.SetStatus(StatusIdle)
	}

	if e.conn == nil {
		addr := &net.UnixAddr{Name: e.sock, Net: "unixgram"}
		conn, err := net.DialUnix("unixgram", nil, addr)
		if err != nil {
			return // colector ausente; reintenta el próximo tick
		}
		e.conn = conn
	}
	if _, err := e.conn.Write(t.Marshal()); err != nil {
		e.conn.Close()
		e.conn = nil
	}
}
