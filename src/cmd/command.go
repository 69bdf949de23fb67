package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/VectorBits/crossleak/src/internal/api"
	"github.com/VectorBits/crossleak/src/internal/cache"
	"github.com/VectorBits/crossleak/src/internal/callgraph"
	"github.com/VectorBits/crossleak/src/internal/chain"
	"github.com/VectorBits/crossleak/src/internal/config"
	"github.com/VectorBits/crossleak/src/internal/dbutil"
	"github.com/VectorBits/crossleak/src/internal/depindex"
	"github.com/VectorBits/crossleak/src/internal/explorer"
	"github.com/VectorBits/crossleak/src/internal/handler"
	"github.com/VectorBits/crossleak/src/internal/logger"
	"github.com/VectorBits/crossleak/src/internal/metrics"
	"github.com/VectorBits/crossleak/src/internal/oracle"
	"github.com/VectorBits/crossleak/src/internal/report"
	"github.com/VectorBits/crossleak/src/internal/solc"
	"github.com/VectorBits/crossleak/src/internal/static_analyzer"
	"github.com/VectorBits/crossleak/src/internal/target"
	"github.com/VectorBits/crossleak/src/internal/ui"
)

// environment holds the long-lived clients of one invocation.
type environment struct {
	run      config.RunConfiguration
	app      *config.AppConfig
	chain    *config.ChainConfig
	keys     *config.APIKeyManager
	cache    *cache.PageCache
	explorer *explorer.Client
	rpc      *config.RPCManager
	store    *dbutil.Store
	provider static_analyzer.Provider
	metrics  *metrics.EngineMetrics
}

func loadAppConfig() *config.AppConfig {
	appConfig, err := config.LoadConfig()
	if err != nil {
		fmt.Printf(ui.Yellow+"⚠️  Warning: Failed to load config: %v, using defaults"+ui.Reset+"\n", err)
		return config.Default()
	}
	return appConfig
}

func newEnvironment(ctx context.Context, run config.RunConfiguration, app *config.AppConfig) (*environment, error) {
	env := &environment{run: run, app: app, metrics: metrics.NewEngineMetrics()}
	if err := env.metrics.Register(nil); err != nil {
		logger.Warn("Failed to register metrics: %v", err)
	}

	chainCfg, err := app.GetChainConfig(run.Chain)
	if err != nil {
		return nil, err
	}
	env.chain = chainCfg
	env.keys = config.NewChainKeyManager(chainCfg)
	if !env.keys.HasKeys() {
		logger.Warn("No explorer API key configured for %s", chainCfg.Name)
	}

	env.cache, err = cache.Open(app.Cache.Dir, app.Cache.TTL)
	if err != nil {
		return nil, err
	}

	baseURL, err := chainCfg.ExplorerBaseURL()
	if err != nil {
		env.Close()
		return nil, err
	}
	env.explorer, err = explorer.New(explorer.Config{
		BaseURL:           baseURL,
		Keys:              env.keys,
		Proxy:             run.Proxy,
		ChainID:           chainCfg.ChainID,
		RequestsPerSecond: 5,
		Cache:             env.cache,
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	if len(chainCfg.RPCURLs) > 0 {
		env.rpc, err = config.NewRPCManager(chainCfg.Name, chainCfg.RPCURLs, 10*time.Second, run.Proxy)
		if err != nil {
			logger.Warn("RPC unavailable, proxy slots will not be read: %v", err)
		} else {
			logger.InfoFileOnly("%s RPC node: %s", env.rpc.GetChainName(), env.rpc.GetCurrentURL())
		}
	}

	db, err := config.OpenDatabase(ctx, app.Database)
	if err != nil {
		logger.Warn("Database unavailable, findings are only written to files: %v", err)
	} else if db != nil {
		env.store, err = dbutil.NewStore(db)
		if err != nil {
			logger.Warn("Failed to migrate database: %v", err)
			env.store = nil
		}
	}

	env.provider, err = static_analyzer.NewProvider(static_analyzer.AnalyzerConfig{
		Backend:    static_analyzer.BackendType(app.Analyzer.Backend),
		PythonPath: app.Analyzer.PythonPath,
		ScriptPath: app.Analyzer.ScriptPath,
		Timeout:    app.Analyzer.Timeout,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func (e *environment) Close() {
	if e.provider != nil {
		e.provider.Close()
	}
	if e.explorer != nil {
		e.explorer.Close()
	}
	if e.rpc != nil {
		e.rpc.Close()
	}
	if e.cache != nil {
		e.cache.Close()
	}
}

func (e *environment) orchestrator() *handler.Orchestrator {
	recordDir := e.app.Oracle.RecordDir
	if recordDir == e.app.Analysis.OutputDir {
		// follows -o unless configured separately
		recordDir = e.run.OutputDir
	}
	o := handler.New(handler.Options{
		Network:       e.chain.Network,
		OutputDir:     e.run.OutputDir,
		RecordDir:     recordDir,
		MaxTest:       e.run.MaxTest,
		MaxCheckCount: e.run.MaxCheckCount,
		MaxRound:      e.run.MaxRound,
		RandomTxCount: e.run.RandomTxCount,
		TxLength:      e.run.TxLength,
		Concurrency:   e.run.Concurrency,
		APIKey:        e.keys.GetKey(),
	})
	o.Oracle = &oracle.Process{
		Binary:  e.app.Oracle.Binary,
		WorkDir: e.app.Oracle.WorkDir,
		Network: e.chain.Network,
		APIKeys: e.keys.Keys(),
		Timeout: e.run.OracleTimeout,
		Observe: e.metrics.ObserveOracle,
	}
	o.Contracts = e.explorer
	o.History = e.explorer
	o.Indexes = &depindex.Analyzer{
		Store:     depindex.NewStore(e.run.OutputDir),
		Provider:  e.provider,
		Logf:      logger.Logf,
		OnOutcome: func(out depindex.Outcome) { e.metrics.IndexBuild(string(out)) },
	}
	o.Solc = solc.NewManager()
	o.Metrics = e.metrics
	if e.rpc != nil {
		o.Proxies = &chain.SlotResolver{Clients: e.rpc}
	}
	if e.store != nil {
		o.Store = e.store
	}
	o.OnFinding = ui.LogFinding
	return o
}

func ExecuteAnalyze(ctx context.Context, run config.RunConfiguration, app *config.AppConfig) error {
	addresses, err := target.ResolveAddresses(run.TargetAddress, run.TargetFile)
	if err != nil {
		return err
	}

	env, err := newEnvironment(ctx, run, app)
	if err != nil {
		return err
	}
	defer env.Close()

	if run.ServeAPI {
		srv := api.NewServer(run.Listen, env.apiHandler(), nil)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Warn("API server stopped: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	reporter := report.NewReporter(report.NewMarkdownGenerator(), report.NewFileStorage(run.ReportDir))
	var total report.Summary
	start := time.Now()
	var progress *ui.ProgressBar
	if len(addresses) > 1 {
		progress = ui.NewProgressBar(len(addresses), "Targets")
	}

	for i, addr := range addresses {
		if ctx.Err() != nil {
			break
		}
		ui.LogInfo("[%d/%d] Analysing %s on %s", i+1, len(addresses), addr, env.chain.Network)

		summary, err := env.orchestrator().Run(ctx, addr)
		if err != nil {
			ui.LogError("%s: %v", addr, err)
			continue
		}
		path, err := reporter.GenerateAndSave(summary)
		if err != nil {
			ui.LogError("Failed to write report for %s: %v", addr, err)
		} else {
			ui.LogSuccess("Report saved: %s", path)
		}

		total.TxSeen += summary.TxSeen
		total.TxReplayed += summary.TxReplayed
		total.TxSkipped += summary.TxSkipped
		total.OracleCalls += summary.OracleCalls
		total.Errors += summary.Errors
		total.Findings = append(total.Findings, summary.Findings...)
		if progress != nil {
			progress.AddLeaks(len(summary.Findings))
			progress.Increment()
		}
	}
	if progress != nil {
		progress.Finish()
	}

	ui.PrintStats(&total, time.Since(start))
	return ctx.Err()
}

func ExecuteIndex(ctx context.Context, run config.RunConfiguration, app *config.AppConfig) error {
	env, err := newEnvironment(ctx, run, app)
	if err != nil {
		return err
	}
	defer env.Close()

	stop := ui.StartSpinner("Building dependency index of " + run.TargetAddress)
	logic, idx, err := env.orchestrator().Index(ctx, run.TargetAddress)
	ui.StopSpinner(stop)
	if err != nil {
		if errors.Is(err, depindex.ErrNoSource) {
			ui.LogError("%s has no public source code", logic)
			return nil
		}
		return err
	}

	if logic != run.TargetAddress {
		ui.LogInfo("%s delegates to %s", run.TargetAddress, logic)
	}
	return printJSON(idx)
}

func ExecuteRank(run config.RunConfiguration) error {
	rec, err := callgraph.LoadRecord(run.RecordFile)
	if err != nil {
		return err
	}
	return printJSON(callgraph.Aggregate(rec, nil).Rank())
}

func ExecuteServe(ctx context.Context, run config.RunConfiguration, app *config.AppConfig) error {
	env := &environment{run: run, app: app, metrics: metrics.NewEngineMetrics()}
	if err := env.metrics.Register(nil); err != nil {
		logger.Warn("Failed to register metrics: %v", err)
	}
	db, err := config.OpenDatabase(ctx, app.Database)
	if err != nil {
		logger.Warn("Database unavailable, serving file artifacts only: %v", err)
	} else if db != nil {
		if env.store, err = dbutil.NewStore(db); err != nil {
			return err
		}
	}

	srv := api.NewServer(run.Listen, env.apiHandler(), nil)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (e *environment) apiHandler() *api.Handler {
	h := &api.Handler{
		Log:     report.NewFindingsLog(e.run.OutputDir),
		Indexes: depindex.NewStore(e.run.OutputDir),
	}
	if e.store != nil {
		h.Findings = e.store
		h.Contracts = e.store
		h.Stats = e.store
	}
	return h
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func Execute(ctx context.Context, cfg *CLIConfig) error {
	app := loadAppConfig()
	run := cfg.MergeConfigs(app)

	if err := logger.InitLogger(filepath.Join(run.OutputDir, run.LogDir)); err != nil {
		fmt.Printf(ui.Yellow+"⚠️  Warning: Failed to init logger: %v"+ui.Reset+"\n", err)
	}
	defer logger.Close()

	if cfg.Verbose {
		fmt.Printf(ui.Gray+"Running crossleak with config: %+v"+ui.Reset+"\n", run)
	}

	switch strings.ToLower(run.Mode) {
	case "analyze":
		return ExecuteAnalyze(ctx, run, app)
	case "index":
		return ExecuteIndex(ctx, run, app)
	case "rank":
		return ExecuteRank(run)
	case "serve":
		return ExecuteServe(ctx, run, app)
	default:
		return fmt.Errorf("unsupported mode: %s", run.Mode)
	}
}
