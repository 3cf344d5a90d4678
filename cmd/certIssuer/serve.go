package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/certanchor/cert-issuer-go/pkg/config"
	"github.com/certanchor/cert-issuer-go/pkg/logger"
	"github.com/certanchor/cert-issuer-go/pkg/persistence/factory"
	"github.com/certanchor/cert-issuer-go/pkg/proof"
	"github.com/certanchor/cert-issuer-go/pkg/server"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

func runServe(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	rpcUrls, err := parseRpcUrls(c.StringSlice("rpc-url"))
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	serverConfig := &config.ServerConfig{
		Port:           c.Int("port"),
		RequestsPerSec: c.Float64("requests-per-sec"),
		Burst:          c.Int("burst"),
		RpcUrls:        rpcUrls,
		Debug:          c.Bool("verbose"),
	}
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	persistenceConfig := parsePersistenceConfig(c)
	store, err := factory.NewPersistence(&persistenceConfig, l)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := proof.NewCodec()
	if err != nil {
		return err
	}
	verifier := proof.NewVerifier(codec, l)

	closeCheckers, err := registerEthereumCheckers(ctx, verifier, serverConfig.RpcUrls, l)
	if err != nil {
		return err
	}
	defer closeCheckers()

	s, err := server.NewServer(serverConfig, verifier, store, l)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	l.Sugar().Infow("Available endpoints",
		"verify", "POST /verify",
		"health", "GET /health",
		"batches", "GET /batches/{id}")

	<-ctx.Done()
	l.Sugar().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// parseRpcUrls parses <chain>=<url> pairs
func parseRpcUrls(values []string) (map[types.Chain]string, error) {
	urls := make(map[types.Chain]string, len(values))
	for _, v := range values {
		name, url, ok := strings.Cut(v, "=")
		if !ok || url == "" {
			return nil, fmt.Errorf("invalid rpc url %q, expected <chain>=<url>", v)
		}
		chain, err := types.ParseChain(name)
		if err != nil {
			return nil, err
		}
		urls[chain] = url
	}
	return urls, nil
}
