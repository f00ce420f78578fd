// Package scubaduck wires the dataset, query compiler and HTTP transport
// into a runnable service.
package scubaduck

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ezyang/scubaduck/database"
	"github.com/ezyang/scubaduck/server"
)

type Options struct {
	DBPath     string
	Listen     string
	ConfigFile string
}

// Run loads the dataset and serves the API until the listener fails.
func Run(options *Options) error {
	config := ParseConfig(options.ConfigFile)
	listen := options.Listen
	if listen == "" {
		listen = config.Listen
	}
	if listen == "" {
		listen = "127.0.0.1:5000"
	}

	db, err := database.Open(context.Background(), options.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if config.SampleCacheSize > 0 || config.SampleCacheTTLSeconds > 0 {
		db.SetSampleCache(config.SampleCacheSize,
			time.Duration(config.SampleCacheTTLSeconds)*time.Second)
	}

	srv := server.New(db, nil)
	slog.Info("scubaduck listening", "addr", listen, "tables", db.Catalog().Tables())
	return http.ListenAndServe(listen, srv.Handler())
}
