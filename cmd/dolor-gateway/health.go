// ABOUTME: health command: probes a running gateway's /health/ready endpoint
// ABOUTME: Reads the listen address from the same config file serve uses

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dolor/dolor-gateway/internal/config"
)

func runHealth(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return checkHealth(ctx, "http://"+dialAddr(cfg.Server.HTTPAddr), out)
}

// checkHealth requests baseURL/health/ready.
func checkHealth(ctx context.Context, baseURL string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

// dialAddr turns a wildcard listen address into one a client can dial.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
