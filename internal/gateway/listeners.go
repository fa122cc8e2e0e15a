// ABOUTME: Listener setup for plain TCP and tailnet deployments
// ABOUTME: On the tailnet gRPC binds :50061 and the HTTP API binds :80, or :443 with tailnet certs

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"
)

// Tailnet ports used when tailscale is enabled.
const (
	tailnetGRPCPort  = ":50061"
	tailnetHTTPPort  = ":80"
	tailnetHTTPSPort = ":443"
)

// listeners is the pair of sockets one Run serves on.
type listeners struct {
	grpc net.Listener
	http net.Listener
}

func (l listeners) close() {
	for _, ln := range []net.Listener{l.grpc, l.http} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

// listen opens the gRPC and HTTP listeners. With tailscale enabled the
// configured server addresses are ignored.
func (g *Gateway) listen(ctx context.Context) (listeners, error) {
	if !g.config.Tailscale.Enabled {
		return g.listenTCP()
	}
	if srv := g.config.Server; srv.GRPCAddr != "" || srv.HTTPAddr != "" {
		g.logger.Warn("server addresses are ignored on the tailnet",
			"grpc_addr", srv.GRPCAddr,
			"http_addr", srv.HTTPAddr,
		)
	}
	return g.listenTailnet(ctx)
}

func (g *Gateway) listenTCP() (l listeners, err error) {
	srv := g.config.Server
	g.logger.Info("starting gateway", "grpc_addr", srv.GRPCAddr, "http_addr", srv.HTTPAddr)

	if l.grpc, err = net.Listen("tcp", srv.GRPCAddr); err != nil {
		return listeners{}, fmt.Errorf("listening on gRPC address %s: %w", srv.GRPCAddr, err)
	}
	if l.http, err = net.Listen("tcp", srv.HTTPAddr); err != nil {
		l.close()
		return listeners{}, fmt.Errorf("listening on HTTP address %s: %w", srv.HTTPAddr, err)
	}
	return l, nil
}

// tailnetStateDir returns the tsnet state directory, defaulting under the
// user's data directory.
func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir): %w", err)
	}
	return filepath.Join(home, ".local", "share", "metasave", "tailscale"), nil
}

// tailnetAuthKey prefers the configured key over TS_AUTHKEY.
func tailnetAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key := os.Getenv("TS_AUTHKEY"); key != "" {
		return key, nil
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
}

// listenTailnet brings up a tsnet node and listens on it. On failure the
// node and any opened listener are closed.
func (g *Gateway) listenTailnet(ctx context.Context) (l listeners, err error) {
	ts := g.config.Tailscale

	dir, err := tailnetStateDir(ts.StateDir)
	if err != nil {
		return listeners{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return listeners{}, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	key, err := tailnetAuthKey(ts.AuthKey)
	if err != nil {
		return listeners{}, err
	}

	node := &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       dir,
		Ephemeral: ts.Ephemeral,
		AuthKey:   key,
	}
	g.tsnetServer = node
	defer func() {
		if err != nil {
			l.close()
			_ = node.Close()
			g.tsnetServer = nil
		}
	}()

	g.logger.Info("starting tailscale node", "hostname", ts.Hostname, "state_dir", dir, "ephemeral", ts.Ephemeral)
	status, err := node.Up(ctx)
	if err != nil {
		return listeners{}, fmt.Errorf("starting tailscale: %w", err)
	}

	attrs := []any{"hostname", ts.Hostname}
	if len(status.TailscaleIPs) > 0 {
		attrs = append(attrs, "tailscale_ip", status.TailscaleIPs[0].String())
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		attrs = append(attrs, "dns_name", status.Self.DNSName)
	}
	g.logger.Info("tailscale node ready", attrs...)

	if l.grpc, err = node.Listen("tcp", tailnetGRPCPort); err != nil {
		return l, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	if !ts.HTTPS {
		if l.http, err = node.Listen("tcp", tailnetHTTPPort); err != nil {
			return l, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return l, nil
	}

	g.logger.Info("serving HTTPS with tailnet certificates", "port", tailnetHTTPSPort)
	lc, err := node.LocalClient()
	if err != nil {
		return l, fmt.Errorf("getting tailscale local client: %w", err)
	}
	raw, err := node.Listen("tcp", tailnetHTTPSPort)
	if err != nil {
		return l, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	l.http = tls.NewListener(raw, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	})
	return l, nil
}
