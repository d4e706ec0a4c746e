package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"Inventario/internal/catalog"
	"Inventario/internal/config"
	"Inventario/pkg/kit"
)

func main() {
	service := "inventario"

	boot := kit.NewLogger(service, false)
	conf, err := config.LoadFromEnv(boot)
	if err != nil {
		boot.Fatal("load config failed", zap.Error(err))
	}

	log := kit.NewLogger(service, conf.DebugMode)
	defer func() { _ = log.Sync() }()

	assets, err := catalog.NewAssets(conf.Catalog.UploadDir)
	if err != nil {
		log.Fatal("init upload dir failed", zap.Error(err), zap.String("dir", conf.Catalog.UploadDir))
	}
	store := catalog.NewFileStore(conf.Catalog.File, assets, log.Named("store"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &catalog.Server{
		Store:          store,
		Log:            log,
		UploadDir:      conf.Catalog.UploadDir,
		MaxUploadBytes: conf.Catalog.MaxUploadBytes,
	}
	h := catalog.NewHandler(s, catalog.HTTPDeps{
		Log:               log,
		Service:           service,
		Registry:          reg,
		MetricsEnabled:    conf.Metrics.Enabled,
		MetricsToken:      conf.Metrics.Token,
		ImportLimitPerMin: conf.ImportLimitPerMin,
	})

	log.Info("catalog ready",
		zap.String("file", conf.Catalog.File),
		zap.String("upload_dir", conf.Catalog.UploadDir),
	)

	if err := kit.RunHTTPServer(context.Background(), conf.Addr(), h, log); err != nil {
		log.Fatal("http server stopped", zap.Error(err))
	}
}
