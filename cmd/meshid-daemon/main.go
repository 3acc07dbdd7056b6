// Command meshid-daemon runs the account-identity, device-linking and
// conversation-sync core of spec.md section 6.7 as a standalone process.
//
// Grounded on cmd/daemon/main.go's flag set and signal.NotifyContext
// shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshid-core/core/internal/composition/meshdaemon"
	"github.com/meshid-core/core/internal/transport/wakuchannel"
)

const shutdownGrace = 5 * time.Second

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9787", "Prometheus /metrics listen address")
	archivePath := flag.String("archive-path", "", "Path to this device's encrypted account archive (optional)")
	archiveSecret := flag.String("archive-secret", "", "Passphrase unlocking -archive-path (optional)")
	createPassword := flag.String("create-password", "", "Passphrase for a brand-new account when -archive-path is unset")
	transport := flag.String("transport", wakuchannel.TransportMock, "Network transport: go-waku | mock")
	trustRequestRPS := flag.Float64("trust-request-rps", 2, "Inbox trust requests allowed per peer account per second")
	flag.Parse()

	if *showVersion {
		fmt.Printf("meshid-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := meshdaemon.Config{
		ArchivePath:       *archivePath,
		ArchiveSecret:     *archiveSecret,
		CreatePassword:    *createPassword,
		Transport:         wakuchannel.DefaultConfig(),
		TrustRequestRPS:   *trustRequestRPS,
		TrustRequestBurst: 5,
	}
	cfg.Transport.Transport = *transport

	d, err := meshdaemon.New(ctx, cfg)
	if err != nil {
		log.Fatalf("meshid-daemon failed to initialize: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(d.Metrics)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("meshid-daemon metrics server stopped: %v", err)
		}
	}()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("meshid-daemon failed: %v", err)
	}
	log.Printf("meshid-daemon started account=%s device=%s", d.AccountID, d.DeviceID)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	d.Stop(shutdownCtx)
	log.Println("meshid-daemon stopped")
}
