package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"log/slog"

	"github.com/bdobrica/restapi/common/version"
	"github.com/bdobrica/restapi/internal/restapi/config"
	"github.com/bdobrica/restapi/internal/restapi/credentials"
	"github.com/bdobrica/restapi/internal/restapi/endpoint"
	"github.com/bdobrica/restapi/internal/restapi/httpcodec"
	"github.com/bdobrica/restapi/internal/restapi/ratelimit"
	"github.com/bdobrica/restapi/internal/restapi/server"
	"github.com/bdobrica/restapi/internal/restapi/socket"
)

func main() {
	fmt.Printf("restapi-server\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfgPath := getEnv("RESTAPI_CONFIG", "./config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store, err := credentials.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open credential store: %v\n", err)
		os.Exit(1)
	}

	table := endpoint.NewTable(store)
	registerEndpoints(table)

	var tlsCfg *socket.TLSConfig
	if cfg.TLS.Enabled {
		tlsCfg = &socket.TLSConfig{
			CertFile:      cfg.TLS.CertFile,
			KeyFile:       cfg.TLS.KeyFile,
			KeyPassphrase: cfg.TLS.KeyPassphrase,
			MinVersion:    tlsVersionFromString(cfg.TLS.MinVersion),
		}
	}

	srv := server.New(server.Config{
		Listen:        cfg.Listen,
		TLS:           tlsCfg,
		DatabasePath:  cfg.DatabasePath,
		RecvTimeoutMS: cfg.RecvTimeoutMS,
		AuditDBPath:   cfg.AuditDBPath,
	}, table, store)

	if err := srv.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	slog.Info("restapi-server is running; press Ctrl+C to stop", "listen", cfg.Listen, "database_path", filepath.Clean(cfg.DatabasePath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	srv.Stop()
	srv.Wait()
}

// registerEndpoints wires the endpoints every deployment needs: a minimal
// unauthenticated health check. Deployment-specific endpoints are added the
// same way, via table.Register.
func registerEndpoints(table *endpoint.Table) {
	table.Register(endpoint.New(
		httpcodec.ContentTypeJSON, httpcodec.MethodGet, "/health",
		endpoint.AuthNone, ratelimit.Limit{Max: 0},
		func(ctx context.Context, username *string, params json.RawMessage, headers *httpcodec.Headers) *httpcodec.Response {
			return endpoint.Success(map[string]string{"status": "ok"})
		},
	))
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// tlsVersionFromString maps the config's human-readable min_version string
// to the crypto/tls numeric constant, defaulting to TLS 1.2 when unset or
// unrecognized.
func tlsVersionFromString(v string) uint16 {
	switch v {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
