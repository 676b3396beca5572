// Command relay runs the sponsored-transaction relay service: loads
// config, derives the sponsor wallets, wires the Chain Client, Nonce
// Coordinator, Fee Service, dedup/receipt stores, Settlement Engine, and
// Sponsor Pipeline, then serves the HTTP surface with graceful shutdown.
// The wiring follows the same load-config/setup-logger/setup-router/
// graceful-shutdown shape as the teacher's service entrypoints.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aibtcdev/sponsor-relay/internal/apikeystore"
	"github.com/aibtcdev/sponsor-relay/internal/audit"
	"github.com/aibtcdev/sponsor-relay/internal/bgwork"
	"github.com/aibtcdev/sponsor-relay/internal/chainclient"
	"github.com/aibtcdev/sponsor-relay/internal/config"
	"github.com/aibtcdev/sponsor-relay/internal/dedupstore"
	"github.com/aibtcdev/sponsor-relay/internal/facilitator"
	"github.com/aibtcdev/sponsor-relay/internal/feeservice"
	"github.com/aibtcdev/sponsor-relay/internal/httpapi"
	"github.com/aibtcdev/sponsor-relay/internal/metrics"
	"github.com/aibtcdev/sponsor-relay/internal/noncecoord"
	"github.com/aibtcdev/sponsor-relay/internal/ratelimiter"
	"github.com/aibtcdev/sponsor-relay/internal/receiptstore"
	"github.com/aibtcdev/sponsor-relay/internal/settlement"
	"github.com/aibtcdev/sponsor-relay/internal/sip018"
	"github.com/aibtcdev/sponsor-relay/internal/sponsorkey"
	"github.com/aibtcdev/sponsor-relay/internal/sponsorpipeline"
	"github.com/aibtcdev/sponsor-relay/internal/ttlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	senderRateLimitPerMin = 10
	bgWorkers             = 4
	bgQueueDepth          = 256
	chainRPCTimeout       = 10 * time.Second
)

func main() {
	configPath := os.Getenv("RELAY_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := setupLogger(&cfg.Logging)
	logger.Info().Msg("starting sponsor relay")

	// promhttp.Handler() in the router serves the default registry, so
	// metrics register against it rather than a private one.
	m := metrics.New(prometheus.DefaultRegisterer)

	wallets, err := deriveSponsorWallets(cfg.Sponsor, cfg.Chain.Network)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to derive sponsor wallets")
	}
	addresses := make([]string, len(wallets))
	for i, w := range wallets {
		addresses[i] = w.Address
		logger.Info().Int("walletIndex", w.Index).Str("address", w.Address).Msg("sponsor wallet provisioned")
	}

	chain, err := chainclient.New(cfg.Chain.RPCEndpoints, cfg.Chain.HiroAPIKey, chainRPCTimeout, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build chain client")
	}

	nonces := noncecoord.New(addresses, chain, m, logger)
	defer nonces.Close()

	fees := feeservice.New(chain, logger)

	kv := ttlstore.New()
	dedup := dedupstore.New(kv)
	receipts := receiptstore.New(kv)

	engine := settlement.New(chain, dedup)
	fac := facilitator.New(engine, dedup, cfg.Chain.Network)

	apiKeySource := apikeystore.LoadFileSource(cfg.APIKeys.Path)
	apiKeys := apikeystore.New(apiKeySource)

	senderLimiter := ratelimiter.New(senderRateLimitPerMin)
	agentLimiter := ratelimiter.New(ratelimiter.DefaultReqPerMin)
	go sweepLimiters(senderLimiter, agentLimiter)

	auditLog, err := audit.New(cfg.Audit.LogPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit log")
	}

	bg := bgwork.New(bgWorkers, bgQueueDepth, logger)
	bgCtx, bgCancel := context.WithCancel(context.Background())
	bg.Start(bgCtx)
	defer bgCancel()

	sipDomain := sip018.Domain{Name: "sponsor-relay", Version: "1", ChainID: chainIDFor(cfg.Chain.Network)}

	pipeline := sponsorpipeline.New(nonces, fees, engine, dedup, receipts, senderLimiter, apiKeys, bg, auditLog, sipDomain, m, logger)

	server := httpapi.NewServer(pipeline, fac, fees, receipts, apiKeys, nonces, cfg.Chain.Network, cfg.Admin.Token, logger)
	handler := server.Router(cfg, agentLimiter, m)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}
	bg.Shutdown()
	logger.Info().Msg("shutdown complete")
}

func setupLogger(cfg *config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// deriveSponsorWallets prefers a mnemonic over a single raw private key,
// matching the precedence config.Validate enforces (at least one of the
// two is required).
func deriveSponsorWallets(cfg config.SponsorConfig, network string) ([]sponsorkey.Wallet, error) {
	if cfg.Mnemonic != "" {
		return sponsorkey.DeriveFromMnemonic(cfg.Mnemonic, cfg.WalletCount, network)
	}
	return sponsorkey.DeriveFromPrivateKey(cfg.PrivateKey, network)
}

func chainIDFor(network string) string {
	if network == "mainnet" {
		return "1"
	}
	return "2147483648"
}

// sweepLimiters periodically drops per-key rate limiter state untouched
// for 10 minutes, bounding the maps' growth under a churning set of agent
// addresses and remote IPs.
func sweepLimiters(limiters ...*ratelimiter.Limiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		for _, l := range limiters {
			l.Sweep(10 * time.Minute)
		}
	}
}
