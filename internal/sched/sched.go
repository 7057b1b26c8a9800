package sched

import (
	"sync/atomic"

	"so-faas-demo/internal/metrics"
)

// Scheduler elige el worker destino de cada handoff: el slot elegible
// (timestamp > 0) con menor score; empates los gana el worker_id más
// chico. Sin telemetría cae a round-robin para no matar de hambre el
// arranque en frío. La elección es greedy a propósito: el EMA de la
// telemetría ya amortigua los picos, así que no hace falta histéresis.
type Scheduler struct {
	coll     *metrics.Collector
	n        int
	fallback atomic.Uint64
}

// New crea el scheduler sobre el colector para un pool de n workers.
func New(coll *metrics.Collector, n int) *Scheduler {
	return &Scheduler{coll: coll, n: n}
}

// Select devuelve un worker_id en [0, n). También reporta el score del
// elegido y si hubo telemetría (score=0 y byScore=false en fallback).
func (s *Scheduler) Select() (id int, score float64, byScore bool) {
	best := -1
	var bestScore float64
	for i := 0; i < s.n; i++ {
		t, ok := s.coll.Get(i)
		if !ok || t.Timestamp == 0 {
			continue
		}
		if best == -1 || float64(t.Score) < bestScore {
			best = i
			bestScore = float64(t.Score)
		}
	}
	if best >= 0 {
		return best, bestScore, true
	}
	// fallback round-robin
	c := s.fallback.Add(1) - 1
	return int(c % uint64(s.n)), 0, false
}
