// Command gateway serves the benchmark protocol locally: hello with a
// heartbeat interval, identify to auth-success, and echo for everything else.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/torosent/wsbench/internal/gateway"
	"github.com/torosent/wsbench/internal/logging"
)

func main() {
	port := pflag.Int("port", 8080, "Listening port")
	path := pflag.String("path", "/ws", "WebSocket endpoint path")
	heartbeat := pflag.Duration("heartbeat-interval", gateway.DefaultHeartbeatInterval, "Heartbeat interval announced in hello")
	skipAuth := pflag.Bool("skip-auth", false, "Never answer identify")
	dropResponses := pflag.Bool("drop-responses", false, "Read requests but never echo them")
	duplicate := pflag.Bool("duplicate-responses", false, "Echo every request twice")
	logLevel := pflag.String("log-level", "info", "Log level")
	pflag.Parse()

	log, err := logging.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	handler := gateway.NewHandler(gateway.Options{
		HeartbeatInterval:  *heartbeat,
		SkipAuth:           *skipAuth,
		DropResponses:      *dropResponses,
		DuplicateResponses: *duplicate,
		Logger:             log,
	})

	mux := http.NewServeMux()
	mux.Handle(*path, handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("gateway listening", zap.String("addr", srv.Addr), zap.String("path", *path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("gateway stopped", zap.Error(err))
	}
}
