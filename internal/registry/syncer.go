package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"so-faas-demo/internal/routestore"
)

// Syncer mantiene la tabla de rutas eventualmente consistente con el
// registro: carga inicial completa y después polls incrementales sobre
// updated > high_water. La base se abre por ciclo; un fallo de
// apertura o de query deja high_water intacto y se reintenta en el
// siguiente ciclo.
type Syncer struct {
	routes    *routestore.Store
	dbPath    string
	table     string
	interval  time.Duration
	highWater atomic.Int64
	log       *logrus.Entry
}

// NewSyncer construye el sincronizador; no toca la base todavía.
func NewSyncer(routes *routestore.Store, dbPath, table string, interval time.Duration) *Syncer {
	return &Syncer{
		routes:   routes,
		dbPath:   dbPath,
		table:    table,
		interval: interval,
		log:      logrus.WithField("component", "sync"),
	}
}

// HighWater devuelve el mayor updated observado (0 si nada aún).
func (s *Syncer) HighWater() int64 { return s.highWater.Load() }

// InitialLoad hace el scan completo y fija high_water = max(updated).
// A diferencia de los polls, un fallo aquí sí es error del arranque.
func (s *Syncer) InitialLoad() error {
	st, err := Open(s.dbPath, s.table)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.EnsureSchema(); err != nil {
		return err
	}

	rows, err := st.ScanAll()
	if err != nil {
		return err
	}

	batch := make(map[string]string, len(rows))
	var max int64
	for _, r := range rows {
		batch[r.K] = r.V
		if r.Updated > max {
			max = r.Updated
		}
	}
	s.routes.SetBatch(batch)
	s.highWater.Store(max)

	s.log.WithFields(logrus.Fields{"entries": len(rows), "high_water": max}).
		Info("initial load complete")
	return nil
}

// Run ejecuta el bucle de polling hasta que ctx se cancele. La cadencia
// es dormir-y-consultar: no hay ráfagas de recuperación si un ciclo
// tardó más que el intervalo.
func (s *Syncer) Run(ctx context.Context) error {
	s.log.WithField("interval", s.interval).Info("sync loop started")
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sync loop stopping")
			return ctx.Err()
		case <-timer.C:
		}
		s.pollOnce()
		timer.Reset(s.interval)
	}
}

// pollOnce trae las filas nuevas y las aplica bajo una sola toma del
// lock de escritura. high_water solo avanza.
func (s *Syncer) pollOnce() {
	st, err := Open(s.dbPath, s.table)
	if err != nil {
		s.log.WithError(err).Warn("db open failed, will retry next cycle")
		return
	}
	defer st.Close()

	since := s.highWater.Load()
	rows, err := st.ScanSince(since)
	if err != nil {
		s.log.WithError(err).Warn("incremental query failed, will retry next cycle")
		return
	}
	if len(rows) == 0 {
		return
	}

	batch := make(map[string]string, len(rows))
	newHigh := since
	for _, r := range rows {
		batch[r.K] = r.V
		if r.Updated > newHigh {
			newHigh = r.Updated
		}
	}
	s.routes.SetBatch(batch)
	if newHigh > since {
		s.highWater.Store(newHigh)
	}

	s.log.WithFields(logrus.Fields{"entries": len(rows), "high_water": newHigh}).
		Info("routes updated")
}
