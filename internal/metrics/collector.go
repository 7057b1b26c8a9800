package metrics

import (
	"context"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// slotCap es la capacidad fija de la tabla de slots; el pool
// configurado debe caber en ella.
const slotCap = 30

// Collector recibe datagramas de telemetría en el lado del gateway y
// conserva el último registro por worker. Lecturas y escrituras se
// serializan con un mutex; la sección crítica es la copia del registro.
type Collector struct {
	mu    sync.Mutex
	slots [slotCap]Telemetry
	sock  string
	pool  int
	log   *logrus.Entry
}

// NewCollector crea el colector para un pool de n workers.
func NewCollector(sockPath string, pool int) *Collector {
	if pool > slotCap {
		pool = slotCap
	}
	return &Collector{
		sock: sockPath,
		pool: pool,
		log:  logrus.WithField("component", "metrics"),
	}
}

// Update reemplaza el slot del worker (con bounds check).
func (c *Collector) Update(t Telemetry) {
	if t.WorkerID < 0 || int(t.WorkerID) >= slotCap {
		return
	}
	c.mu.Lock()
	c.slots[t.WorkerID] = t
	c.mu.Unlock()
}

// Get devuelve una copia del slot i. Un Timestamp 0 significa que ese
// worker todavía no reportó.
func (c *Collector) Get(i int) (Telemetry, bool) {
	if i < 0 || i >= slotCap {
		return Telemetry{}, false
	}
	c.mu.Lock()
	t := c.slots[i]
	c.mu.Unlock()
	return t, true
}

// Pool devuelve el tamaño configurado del pool.
func (c *Collector) Pool() int { return c.pool }

// Snapshot copia los slots del pool (para /status).
func (c *Collector) Snapshot() []Telemetry {
	out := make([]Telemetry, c.pool)
	c.mu.Lock()
	copy(out, c.slots[:c.pool])
	c.mu.Unlock()
	return out
}

// Run liga el socket de datagramas y consume telemetría hasta que ctx
// se cancele. Datagramas de tamaño incorrecto se descartan; un error de
// recepción es fatal para el colector.
func (c *Collector) Run(ctx context.Context) error {
	_ = os.Remove(c.sock)
	addr := &net.UnixAddr{Name: c.sock, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return errors.Wrap(err, "metrics bind")
	}
	defer func() {
		conn.Close()
		os.Remove(c.sock)
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	c.log.WithField("sock", c.sock).Info("collector listening")

	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "metrics recv")
		}
		t, err := UnmarshalTelemetry(buf[:n])
		if err != nil {
			continue // datagrama malformado
		}
		c.Update(t)
	}
}
