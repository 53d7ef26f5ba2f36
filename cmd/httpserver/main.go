package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/httpconnector/internal/apps"
	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/logging"
	"github.com/Brownie44l1/httpconnector/internal/response"
	"github.com/Brownie44l1/httpconnector/internal/router"
	"github.com/Brownie44l1/httpconnector/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "httpserver:", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "YAML configuration file")
	httpAddr := flag.String("http", "", "HTTP listen address")
	httpsAddr := flag.String("https", "", "HTTPS listen address")
	docRoot := flag.String("docroot", "", "document root for static files")
	errRoot := flag.String("errroot", "", "directory of error page templates")
	threads := flag.Int("threads", 0, "application worker goroutines")
	accessLog := flag.String("accesslog", "", "access log file, - for stdout")
	flag.Parse()

	conf := config.Default()
	if *configFile != "" {
		var err error
		if conf, err = config.Load(*configFile); err != nil {
			return err
		}
	}

	// flags override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			conf.HTTPAddr = *httpAddr
		case "https":
			conf.HTTPSAddr = *httpsAddr
		case "docroot":
			conf.DocRoot = *docRoot
		case "errroot":
			conf.ErrorRoot = *errRoot
		case "threads":
			conf.Threads = *threads
		case "accesslog":
			conf.AccessLog = *accessLog
		}
	})
	if err := conf.Validate(); err != nil {
		return err
	}

	logger := logging.NewConsoleLogger(conf.LogLevel)
	access, err := logging.OpenAccessLog(conf.AccessLog)
	if err != nil {
		return err
	}
	defer access.Close()

	workers := server.NewWorkerPool(conf.Threads, logger)
	rt := router.New(conf, workers)
	registry := map[string]response.Application{
		"echo": apps.NewEcho(logger),
	}
	if len(conf.EntryPoints) == 0 {
		rt.Mount("/echo", registry["echo"])
	}
	if err := rt.MountEntryPoints(registry); err != nil {
		return err
	}

	srv, err := server.New(conf, rt, server.Options{
		Logger:    logger,
		AccessLog: access,
		Workers:   workers,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		logging.F("http", conf.HTTPAddr),
		logging.F("https", conf.HTTPSAddr),
		logging.F("docroot", conf.DocRoot),
		logging.F("threads", conf.Threads),
	)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	stats := srv.Stats()
	logger.Info("served",
		logging.F("requests", stats.RequestsTotal),
		logging.F("bytes", stats.BytesSent),
		logging.F("errors", stats.ErrorsTotal),
	)
	return nil
}
