package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"so-faas-demo/internal/config"
	"so-faas-demo/internal/descriptor"
	"so-faas-demo/internal/fdpass"
	"so-faas-demo/internal/http11"
	"so-faas-demo/internal/metrics"
	"so-faas-demo/internal/resp"
	"so-faas-demo/internal/routestore"
	"so-faas-demo/internal/sched"
	"so-faas-demo/internal/upload"
	"so-faas-demo/internal/util"
)

// Server es el contexto del gateway: tabla de rutas, colector,
// scheduler y pipeline de uploads construidos en main y compartidos por
// referencia por todos los handlers.
type Server struct {
	cfg       config.Config
	routes    *routestore.Store
	coll      *metrics.Collector
	scheduler *sched.Scheduler
	uploads   *upload.Pipeline
	limiter   *rate.Limiter
	startedAt time.Time
	connCount atomic.Uint64
	log       *logrus.Entry
}

// NewServer arma el gateway con sus colaboradores.
func NewServer(cfg config.Config, routes *routestore.Store, coll *metrics.Collector,
	scheduler *sched.Scheduler, uploads *upload.Pipeline) *Server {
	return &Server{
		cfg:       cfg,
		routes:    routes,
		coll:      coll,
		scheduler: scheduler,
		uploads:   uploads,
		limiter:   rate.NewLimiter(rate.Limit(cfg.UploadRate), cfg.UploadBurst),
		startedAt: time.Now(),
		log:       logrus.WithField("component", "gateway"),
	}
}

// ListenAndServe acepta clientes TCP hasta que ctx se cancele; una
// goroutine por petición aceptada.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.HTTPPort))
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.WithField("port", s.cfg.HTTPPort).Info("gateway listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.connCount.Add(1)
		go s.HandleConn(conn)
	}
}

// HandleConn atiende una conexión completa: parseo, rutas especiales,
// lookup y handoff. Tras un handoff exitoso el gateway no vuelve a
// tocar la conexión: la respuesta y el cierre son del worker.
func (s *Server) HandleConn(c net.Conn) {
	handedOff := false
	defer func() {
		if !handedOff {
			c.Close()
		}
	}()

	trace := map[string]string{
		"X-Request-Id": util.NewReqID(),
		"Connection":   "close",
	}

	req, err := http11.ParseRequest(c)
	if err != nil {
		http11.WriteErrorJSON(c, 500, "parse", err.Error(), trace)
		return
	}

	s.log.WithFields(logrus.Fields{
		"method": req.Method, "uri": req.URI, "body": len(req.Body),
	}).Info("request")

	path, _ := http11.SplitTarget(req.URI)

	// rutas propias del gateway (nunca se delegan)
	switch {
	case req.Method == "GET" && path == "/upload":
		s.writeResult(c, s.servePage(), trace)
		return
	case req.Method == "POST" && path == "/upload":
		if !s.limiter.Allow() {
			s.writeResult(c, resp.TooMany("rate", "upload rate exceeded"), trace)
			return
		}
		s.writeResult(c, s.uploads.Handle(req.ContentType, req.Body), trace)
		return
	case req.Method == "GET" && path == "/status":
		s.writeResult(c, s.statusResult(), trace)
		return
	}

	// lookup de función registrada
	raw, ok := s.routes.Get(descriptor.RouteKey(req.Method, req.URI))
	if !ok {
		http11.WriteJSONH(c, 404, `{"error":"Function not found"}`, trace)
		return
	}
	fn, err := descriptor.Parse(raw)
	if err != nil {
		s.log.WithError(err).Error("stored descriptor unusable")
		http11.WriteErrorJSON(c, 500, "descriptor", "stored descriptor unusable", trace)
		return
	}

	workerID, score, byScore := s.scheduler.Select()
	if byScore {
		s.log.WithFields(logrus.Fields{"worker": workerID, "score": score}).Info("worker selected")
	} else {
		s.log.WithField("worker", workerID).Info("worker selected (no telemetry, round-robin)")
	}

	if err := s.sendToWorker(workerID, c, fn, req.Body); err != nil {
		s.log.WithError(err).WithField("worker", workerID).Error("handoff failed")
		http11.WriteErrorJSON(c, 500, "handoff", "Worker communication failed", trace)
		return
	}

	// el descriptor viajó: el worker escribe la respuesta y cierra.
	handedOff = true
}

// sendToWorker conecta con el socket del worker y transfiere el
// descriptor del cliente junto con la metadata de ejecución.
func (s *Server) sendToWorker(id int, c net.Conn, fn descriptor.FunctionDescriptor, body []byte) error {
	tcp, ok := c.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("client conn is not TCP")
	}

	addr := &net.UnixAddr{Name: s.cfg.WorkerSock(id), Net: "unix"}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	file, err := tcp.File()
	if err != nil {
		return err
	}
	// nuestra copia local del descriptor se libera tras el send; el
	// worker queda con la suya, independiente
	defer file.Close()

	wreq := fdpass.WorkerRequest{
		Runtime: fn.Runtime,
		Module:  fn.Module,
		Handler: fn.Handler,
		Body:    body,
	}
	return fdpass.SendFD(conn, int(file.Fd()), wreq.Marshal())
}

// servePage lee la página estática de upload (tope 1 MiB).
func (s *Server) servePage() resp.Result {
	info, err := os.Stat(s.cfg.UploadPage)
	if err != nil {
		return resp.NotFound("page", "upload page not found")
	}
	if info.Size() <= 0 || info.Size() > 1024*1024 {
		return resp.IntErr("page", "upload page too large or empty")
	}
	b, err := os.ReadFile(s.cfg.UploadPage)
	if err != nil {
		return resp.IntErr("page", "upload page read error")
	}
	return resp.HTML(string(b))
}

// statusResult arma el snapshot operativo del gateway.
func (s *Server) statusResult() resp.Result {
	type workerStatus struct {
		WorkerID int     `json:"worker_id"`
		Score    float32 `json:"score"`
		CPU      float32 `json:"cpu"`
		Mem      float32 `json:"mem"`
		IO       float32 `json:"io"`
		Requests uint32  `json:"requests"`
		Errors   uint32  `json:"errors"`
		Status   string  `json:"status"`
	}

	workers := []workerStatus{}
	for _, t := range s.coll.Snapshot() {
		if t.Timestamp == 0 {
			continue // sin muestra todavía
		}
		workers = append(workers, workerStatus{
			WorkerID: int(t.WorkerID),
			Score:    t.Score,
			CPU:      t.CPU,
			Mem:      t.Mem,
			IO:       t.IO,
			Requests: t.Requests,
			Errors:   t.Errors,
			Status:   t.StatusString(),
		})
	}

	out := map[string]any{
		"pid":         os.Getpid(),
		"uptime_ms":   time.Since(s.startedAt).Milliseconds(),
		"started_at":  s.startedAt.UTC().Format(time.RFC3339Nano),
		"connections": s.connCount.Load(),
		"routes":      s.routes.Len(),
		"workers":     workers,
	}
	b, _ := json.Marshal(out)
	return resp.JSONOK(string(b))
}

// writeResult serializa un resp.Result mezclando las cabeceras de
// trazabilidad.
func (s *Server) writeResult(c net.Conn, r resp.Result, trace map[string]string) {
	hdrs := map[string]string{}
	for k, v := range trace {
		hdrs[k] = v
	}
	for k, v := range r.Headers {
		hdrs[k] = v
	}

	switch {
	case r.Err != nil:
		http11.WriteErrorJSON(c, r.Status, r.Err.Code, r.Err.Detail, hdrs)
	case r.JSON:
		http11.WriteJSONH(c, r.Status, r.Body, hdrs)
	default:
		http11.WriteHTMLH(c, r.Status, r.Body, hdrs)
	}
}
