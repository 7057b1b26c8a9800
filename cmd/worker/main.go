package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"so-faas-demo/internal/config"
	"so-faas-demo/internal/metrics"
	"so-faas-demo/internal/worker"
)

func main() {
	configPath := pflag.String("config", "", "ruta del YAML de configuración (opcional)")
	id := pflag.Int("id", 0, "worker id dentro del pool [0, N)")
	sock := pflag.String("sock", "", "socket de peticiones (default según el id)")
	pflag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithFields(logrus.Fields{"component": "worker", "worker": *id})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}
	sockPath := *sock
	if sockPath == "" {
		sockPath = cfg.WorkerSock(*id)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := worker.New(*id, sockPath)

	smoother := metrics.NewSmoother(cfg.EMAFactor, cfg.MaxCPUPercent, cfg.MaxMemMB, cfg.MaxIORate)
	weights := metrics.Weights{Alpha: cfg.Alpha, Beta: cfg.Beta, Gamma: cfg.Gamma}
	emitter := metrics.NewEmitter(*id, cfg.MetricsSock, 500*time.Millisecond, smoother, weights, w.State)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return emitter.Run(gctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.WithError(err).Fatal("worker stopped")
	}
	log.Info("goodbye")
}
