package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"so-faas-demo/internal/compiler"
	"so-faas-demo/internal/config"
	"so-faas-demo/internal/gateway"
	"so-faas-demo/internal/metrics"
	"so-faas-demo/internal/registry"
	"so-faas-demo/internal/routestore"
	"so-faas-demo/internal/sched"
	"so-faas-demo/internal/upload"
)

func main() {
	configPath := pflag.String("config", "", "ruta del YAML de configuración (opcional)")
	verbose := pflag.Bool("verbose", false, "logs a nivel debug")
	pflag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "gateway")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}

	// cierre ordenado: SIGINT/SIGTERM cancelan el contexto raíz
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// estado compartido, construido acá y pasado por referencia
	routes := routestore.New(1024)
	syncer := registry.NewSyncer(routes, cfg.DBPath, cfg.Table, cfg.SyncInterval)
	if err := syncer.InitialLoad(); err != nil {
		log.WithError(err).Fatal("registry initial load failed")
	}

	coll := metrics.NewCollector(cfg.MetricsSock, cfg.Workers)
	scheduler := sched.New(coll, cfg.Workers)

	driver := compiler.New(cfg.StagingDir, cfg.OutBase, cfg.DBDir, cfg.DBPath, cfg.Table)
	uploads := upload.NewPipeline(cfg.StagingDir, cfg.SyncInterval, driver.Compile)

	srv := gateway.NewServer(cfg, routes, coll, scheduler, uploads)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return syncer.Run(gctx) })
	g.Go(func() error { return coll.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	log.Info("gateway ready")
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.WithError(err).Fatal("gateway stopped")
	}
	log.Info("goodbye")
}
