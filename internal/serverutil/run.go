// Package serverutil runs an http.Server with a bounded graceful
// shutdown tied to context cancellation.
package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TLSConfig names the certificate and key files for a TLS listener. Both
// must be set or both empty.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config wraps the server to run and how long to wait for in-flight
// requests once the context is cancelled.
type Config struct {
	Server          *http.Server
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	// Ready, when non-nil, is closed once the listener is accepting.
	Ready chan<- struct{}
}

// DefaultShutdownTimeout applies when Config.ShutdownTimeout is unset.
const DefaultShutdownTimeout = 10 * time.Second

// Run serves until the context is cancelled or the server fails, then
// shuts down gracefully within the configured timeout.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return fmt.Errorf("server is required")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return fmt.Errorf("both TLS cert file and key file must be provided")
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}

	if cfg.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			ln.Close()
			return err
		}
		tlsCfg := cfg.Server.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		} else {
			tlsCfg = tlsCfg.Clone()
		}
		tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
		cfg.Server.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	if cfg.Ready != nil {
		close(cfg.Ready)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- cfg.Server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := cfg.Server.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}

	return shutdownErr
}
