package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hifi-finance/hifi-proxy-target/config"
	"github.com/hifi-finance/hifi-proxy-target/core/events"
	"github.com/hifi-finance/hifi-proxy-target/core/state"
	"github.com/hifi-finance/hifi-proxy-target/native/amm"
	nativecommon "github.com/hifi-finance/hifi-proxy-target/native/common"
	"github.com/hifi-finance/hifi-proxy-target/native/htoken"
	"github.com/hifi-finance/hifi-proxy-target/native/lending"
	"github.com/hifi-finance/hifi-proxy-target/native/router"
	"github.com/hifi-finance/hifi-proxy-target/observability/logging"
	"github.com/hifi-finance/hifi-proxy-target/rpc"
	"github.com/hifi-finance/hifi-proxy-target/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PROXY_ENV"))
	logger := logging.Setup("proxyd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env != "" {
		cfg.Environment = env
	}

	var db storage.Database
	if cfg.DataDir == ":memory:" {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("Failed to open database", slog.Any("error", err), slog.String("dataDir", cfg.DataDir))
			os.Exit(1)
		}
		db = leveldb
	}
	defer db.Close()

	manager := state.NewManager(db)

	issuer := htoken.NewEngine(nativecommon.ModuleAddress("htoken"))
	issuer.SetState(htoken.NewStore(manager))

	ratios := make(map[string]uint64, len(cfg.Collaterals))
	for _, col := range cfg.Collaterals {
		ratios[col.Kind] = col.RatioBps
	}
	ledger := lending.NewEngine(nativecommon.ModuleAddress("lending"), lending.RiskParameters{CollateralRatios: ratios})
	ledger.SetState(lending.NewStore(manager))
	ledger.SetIssuer(issuer)

	pool := amm.NewEngine(nativecommon.ModuleAddress("amm"))
	pool.SetState(amm.NewStore(manager))

	engine := router.NewEngine(manager, nativecommon.ModuleAddress("router"), nativecommon.ModuleAddress("wrapper"), cfg.WrapperSymbol)
	engine.SetEmitter(events.NewLogEmitter(logger))

	collaborators := router.Collaborators{Ledger: ledger, Issuer: issuer, Pool: pool}

	if err := bootstrap(cfg, issuer, pool); err != nil {
		logger.Error("Failed to bootstrap markets", slog.Any("error", err))
		os.Exit(1)
	}
	if err := manager.Commit(); err != nil {
		logger.Error("Failed to persist bootstrap state", slog.Any("error", err))
		os.Exit(1)
	}

	go serveOps(cfg.OpsAddress, logger)

	server := rpc.NewServer(engine, collaborators, manager)
	server.SetRateLimit(cfg.RPCRateLimit)
	server.SetMaxRequestBytes(cfg.RPCBodyLimit)

	logger.Info("Starting JSON-RPC server", slog.String("address", cfg.RPCAddress))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// bootstrap registers the configured bonds and pools, skipping entries that
// already exist in the state database.
func bootstrap(cfg *config.Config, issuer *htoken.Engine, pool *amm.Engine) error {
	for _, bond := range cfg.Bonds {
		err := issuer.RegisterBond(bond.Symbol, bond.Underlying, bond.Maturity)
		if err != nil && err != htoken.ErrBondExists {
			return err
		}
	}
	for _, p := range cfg.Pools {
		err := pool.CreatePool(p.ID, p.Underlying, p.Bond, p.Maturity, p.FeeBps)
		if err != nil && err != amm.ErrPoolExists {
			return err
		}
	}
	return nil
}

func serveOps(addr string, logger *slog.Logger) {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	logger.Info("Starting ops server", slog.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Ops server stopped", slog.Any("error", err))
	}
}
