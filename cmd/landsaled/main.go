package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"landsale/config"
	"landsale/native/presale"
	"landsale/observability/logging"
	"landsale/rpc"
	"landsale/storage"
)

const adminTokenEnv = "LANDSALE_ADMIN_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	listenFlag := flag.String("listen", "", "Listen address override")
	flag.Parse()

	if _, err := os.Stat(*configFile); errors.Is(err, os.ErrNotExist) {
		if err := config.WriteDefault(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write starter config: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "wrote starter config to %s; fill in the role addresses and restart\n", *configFile)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("landsaled", cfg.Environment)

	listen := cfg.ListenAddress
	if strings.TrimSpace(*listenFlag) != "" {
		listen = strings.TrimSpace(*listenFlag)
	}
	adminToken := cfg.AdminToken
	if env := strings.TrimSpace(os.Getenv(adminTokenEnv)); env != "" {
		adminToken = env
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	ledger := presale.NewLedger(db)
	for _, pack := range cfg.Packs {
		if err := ledger.PutPack(pack.ID, pack.PriceCents); err != nil {
			logger.Error("failed to register pack", "pack", pack.ID, "err", err)
			os.Exit(1)
		}
	}

	oracle, err := buildOracle(cfg)
	if err != nil {
		logger.Error("failed to initialise oracle", "err", err)
		os.Exit(1)
	}

	administrator, merchant, charity, err := cfg.DecodedRoles()
	if err != nil {
		logger.Error("failed to decode role addresses", "err", err)
		os.Exit(1)
	}

	engine := presale.NewEngine(ledger, oracle, presale.Roles{
		Administrator: administrator.Raw(),
		Merchant:      merchant.Raw(),
		Charity:       charity.Raw(),
	})
	if err := engine.SetCharityRate(cfg.CharityRatePermille); err != nil {
		logger.Error("invalid charity rate", "err", err)
		os.Exit(1)
	}
	if cfg.Oracle.MaxQuoteAgeSeconds > 0 {
		engine.SetMaxQuoteAge(time.Duration(cfg.Oracle.MaxQuoteAgeSeconds) * time.Second)
	}
	engine.SetEmitter(&logEmitter{log: logger})

	server := rpc.NewServer(engine, logger, adminToken)
	mux := http.NewServeMux()
	mux.Handle("/v1/", server)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("settlement service listening", "addr", listen, "oracle", cfg.Oracle.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
}

func buildOracle(cfg *config.Config) (presale.RateOracle, error) {
	switch cfg.Oracle.Mode {
	case config.OracleModeManual:
		oracle := presale.NewManualOracle()
		if err := oracle.SetDecimal(cfg.Oracle.ManualRate, time.Now()); err != nil {
			return nil, fmt.Errorf("manual rate: %w", err)
		}
		return oracle, nil
	case config.OracleModeFeed:
		return presale.NewFeedOracle(nil, cfg.Oracle.Endpoint, cfg.Oracle.APIKey, cfg.Oracle.Symbol), nil
	default:
		return nil, fmt.Errorf("unsupported oracle mode %q", cfg.Oracle.Mode)
	}
}

// logEmitter mirrors engine events into the structured log.
type logEmitter struct {
	log *slog.Logger
}

func (l *logEmitter) Emit(event presale.Event) {
	switch evt := event.(type) {
	case presale.PurchaseCompleted:
		l.log.Info("event", "type", evt.EventType(), "receiptId", evt.ReceiptID, "packId", evt.PackID)
	case presale.SaleClaimed:
		l.log.Info("event", "type", evt.EventType(), "amount", evt.Amount.String())
	case presale.CharityClaimed:
		l.log.Info("event", "type", evt.EventType(), "amount", evt.Amount.String())
	case presale.CommissionClaimed:
		l.log.Info("event", "type", evt.EventType(), "code", evt.Code, "amount", evt.Amount.String())
	case presale.DiscountUpdated:
		l.log.Info("event", "type", evt.EventType(), "eligible", evt.Eligible)
	default:
		l.log.Info("event", "type", event.EventType())
	}
}
