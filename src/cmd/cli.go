package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/VectorBits/crossleak/src/internal"
	"github.com/VectorBits/crossleak/src/internal/config"
	"github.com/VectorBits/crossleak/src/internal/ui"
)

type CLIConfig struct {
	Mode          string
	TargetAddress string
	TargetFile    string
	RecordFile    string
	Chain         string
	Concurrency   int
	Verbose       bool
	Proxy         string
	OutputDir     string
	ReportDir     string
	Listen        string

	MaxRound      int
	MaxTest       int
	MaxCheckCount int
	TxLength      int
	RandomTxCount int
	OracleTimeout time.Duration

	// set holds the flags given on the command line; only those override
	// settings.yaml.
	set map[string]bool
}

var validModes = []string{"analyze", "index", "rank", "serve"}

func looksLikeTargetFile(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	if strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return true
	}
	info, err := os.Stat(s)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func (c *CLIConfig) Validate() error {
	valid := false
	for _, m := range validModes {
		if c.Mode == m {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("-m must be one of: %s", strings.Join(validModes, ", "))
	}

	switch c.Mode {
	case "analyze":
		if c.TargetAddress == "" && c.TargetFile == "" {
			return errors.New("-t <address|targets.txt> or -file is required for analyze")
		}
	case "index":
		if c.TargetAddress == "" {
			return errors.New("-t <address> is required for index")
		}
	case "rank":
		if c.RecordFile == "" {
			return errors.New("-record <replay_record> is required for rank")
		}
	}
	if c.TargetAddress != "" && !common.IsHexAddress(c.TargetAddress) {
		return fmt.Errorf("invalid target address: %s", c.TargetAddress)
	}
	if err := internal.ValidateProxyURL(c.Proxy); err != nil {
		return err
	}
	if c.Chain == "" {
		c.Chain = "eth"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return nil
}

// MergeConfigs layers defaults, settings.yaml and explicit CLI flags, in
// that order.
func (c *CLIConfig) MergeConfigs(appConfig *config.AppConfig) config.RunConfiguration {
	cfg := config.DefaultRunConfiguration()

	if appConfig != nil {
		a := appConfig.Analysis
		cfg.MaxRound = a.MaxRound
		cfg.MaxTest = a.MaxTest
		cfg.MaxCheckCount = a.MaxCheckCount
		cfg.TxLength = a.TxLength
		cfg.RandomTxCount = a.RandomTxCount
		cfg.Concurrency = a.Concurrency
		cfg.OutputDir = a.OutputDir
		cfg.OracleTimeout = appConfig.Oracle.Timeout
		cfg.Listen = appConfig.Server.Listen
	}

	cfg.Mode = c.Mode
	cfg.TargetAddress = strings.ToLower(c.TargetAddress)
	cfg.TargetFile = c.TargetFile
	cfg.RecordFile = c.RecordFile
	cfg.Chain = c.Chain
	cfg.Verbose = c.Verbose
	cfg.Proxy = c.Proxy

	override := func(name string, apply func()) {
		if c.set[name] {
			apply()
		}
	}
	override("concurrency", func() { cfg.Concurrency = c.Concurrency })
	override("o", func() { cfg.OutputDir = c.OutputDir })
	override("listen", func() { cfg.Listen = c.Listen })
	cfg.ServeAPI = c.Mode == "serve" || c.set["listen"]
	override("max-round", func() { cfg.MaxRound = c.MaxRound })
	override("max-test", func() { cfg.MaxTest = c.MaxTest })
	override("max-check", func() { cfg.MaxCheckCount = c.MaxCheckCount })
	override("tx-length", func() { cfg.TxLength = c.TxLength })
	override("random-tx", func() { cfg.RandomTxCount = c.RandomTxCount })
	override("oracle-timeout", func() { cfg.OracleTimeout = c.OracleTimeout })

	cfg.ReportDir = c.ReportDir
	if cfg.ReportDir == "" {
		cfg.ReportDir = filepath.Join(cfg.OutputDir, "reports")
	}

	cfg.Network = strings.ToUpper(cfg.Chain)
	if appConfig != nil {
		if chain, err := appConfig.GetChainConfig(cfg.Chain); err == nil {
			cfg.Network = chain.Network
		}
	}
	return cfg
}

func showHelp(topic string) {
	switch topic {
	case "m", "mode":
		showModeHelp()
	case "t", "target":
		showTargetHelp()
	case "c", "chain":
		showChainHelp()
	default:
		showGeneralHelp()
	}
}

func showGeneralHelp() {
	fmt.Println(ui.Cyan + "USAGE:" + ui.Reset)
	fmt.Println("  crossleak -m <mode> [OPTIONS]")
	fmt.Println()

	fmt.Println(ui.Cyan + "CORE OPTIONS:" + ui.Reset)
	fmt.Printf("  %-25s %s\n", "-m  <mode>", "analyze | index | rank | serve (default: analyze)")
	fmt.Printf("  %-25s %s\n", "-t  <target>", "Contract address or target file (auto-detect)")
	fmt.Printf("  %-25s %s\n", "-file <path>", "Target file (txt/yaml)")
	fmt.Printf("  %-25s %s\n", "-record <path>", "Replay record to rank (rank mode)")
	fmt.Printf("  %-25s %s\n", "-c  <chain>", "Blockchain network (default: eth)")
	fmt.Printf("  %-25s %s\n", "-o  <dir>", "Artifact directory (default: record_data)")
	fmt.Printf("  %-25s %s\n", "-r  <dir>", "Report directory (default: <output>/reports)")
	fmt.Printf("  %-25s %s\n", "-concurrency <n>", "Parallel target transactions")
	fmt.Printf("  %-25s %s\n", "-listen <addr>", "API listen address (serve mode)")
	fmt.Printf("  %-25s %s\n", "-proxy <url>", "Proxy URL (HTTP/SOCKS5)")
	fmt.Println()

	fmt.Println(ui.Cyan + "TUNING:" + ui.Reset)
	fmt.Printf("  %-25s %s\n", "-max-round <n>", "History pages per target and per probe")
	fmt.Printf("  %-25s %s\n", "-max-test <n>", "Replays per target selector")
	fmt.Printf("  %-25s %s\n", "-max-check <n>", "Candidates per implicit dependency")
	fmt.Printf("  %-25s %s\n", "-tx-length <n>", "Target history page size")
	fmt.Printf("  %-25s %s\n", "-random-tx <n>", "Synthesized calls when a dependency has no history")
	fmt.Printf("  %-25s %s\n", "-oracle-timeout <d>", "Wall-clock budget of one oracle call")
	fmt.Println()

	fmt.Println(ui.Cyan + "HELP:" + ui.Reset)
	fmt.Println("  crossleak [OPTION] --help   Show detailed help for an option")
	fmt.Println()

	fmt.Println(ui.Cyan + "EXAMPLES:" + ui.Reset)
	fmt.Println("  crossleak -t 0x123... -c eth")
	fmt.Println("  crossleak -t targets.txt -c bsc -concurrency 8")
	fmt.Println("  crossleak -m index -t 0x123...")
	fmt.Println("  crossleak -m rank -record record_data/cache/0x123.../tx/0xabc.../replay_record_0xabc...")
	fmt.Println("  crossleak -m serve -listen 127.0.0.1:8089")
}

func showModeHelp() {
	fmt.Println(ui.Cyan + "🎯 MODES (-m)" + ui.Reset)
	fmt.Println()
	fmt.Printf("  %-12s %s\n", "analyze", "Replay the contract's history and verify implicit dependencies")
	fmt.Printf("  %-12s %s\n", "index", "Build (or load) and print the storage dependency index")
	fmt.Printf("  %-12s %s\n", "rank", "Rank the dapps, contracts and functions of a replay record")
	fmt.Printf("  %-12s %s\n", "serve", "Serve findings, indexes and metrics over HTTP")
}

func showTargetHelp() {
	fmt.Println(ui.Cyan + "🎯 TARGETS (-t)" + ui.Reset)
	fmt.Println()
	fmt.Println("  -t <0x...>           => analyse a single contract")
	fmt.Println("  -t <targets.txt>     => analyse every address in the file")
	fmt.Println("  -file <targets.yaml> => YAML list, or a 'targets:' / 'addresses:' key")
}

func showChainHelp() {
	fmt.Println(ui.Cyan + "⛓️  NETWORKS (-c)" + ui.Reset)
	fmt.Println()
	fmt.Printf("  %-12s %s\n", "eth", "Ethereum Mainnet (default)")
	fmt.Printf("  %-12s %s\n", "bsc", "BNB Smart Chain")
	fmt.Printf("  %-12s %s\n", "arbitrum", "Arbitrum One")
	fmt.Printf("  %-12s %s\n", "zkevm", "zkSync Era")
	fmt.Printf("  %-12s %s\n", "polygon", "Polygon PoS")
	fmt.Println("  Other chains can be declared under 'chains:' in config/settings.yaml.")
}

func ParseFlags(args []string) (*CLIConfig, error) {
	for i := 0; i < len(args)-1; i++ {
		if args[i+1] == "--help" || args[i+1] == "-h" {
			showHelp(strings.TrimLeft(args[i], "-"))
			return nil, flag.ErrHelp
		}
	}
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			showGeneralHelp()
			return nil, flag.ErrHelp
		}
	}

	fs := flag.NewFlagSet("crossleak", flag.ContinueOnError)
	fs.Usage = func() {
		showGeneralHelp()
	}

	mode := fs.String("m", "analyze", "Mode: analyze | index | rank | serve")
	target := fs.String("t", "", "Target: <address> | <targets.txt>")
	fileFlag := fs.String("file", "", "Target file (txt/yaml)")
	record := fs.String("record", "", "Replay record file (rank mode)")
	chain := fs.String("c", "eth", "Chain name or network identifier")
	concurrency := fs.Int("concurrency", 4, "Parallel target transactions")
	verbose := fs.Bool("v", false, "Verbose output")
	proxy := fs.String("proxy", "", "Optional proxy, e.g. http://127.0.0.1:7897")
	outputDir := fs.String("o", "record_data", "Artifact directory")
	reportDir := fs.String("r", "", "Markdown report directory")
	listen := fs.String("listen", "127.0.0.1:8089", "API listen address")
	maxRound := fs.Int("max-round", 10, "History pages per target and per probe")
	maxTest := fs.Int("max-test", 100, "Replays per target selector")
	maxCheck := fs.Int("max-check", 50, "Candidates per implicit dependency")
	txLength := fs.Int("tx-length", 1000, "Target history page size")
	randomTx := fs.Int("random-tx", 50, "Synthesized calls when a dependency has no history")
	oracleTimeout := fs.Duration("oracle-timeout", 300*time.Second, "Oracle call timeout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &CLIConfig{
		Mode:          strings.ToLower(strings.TrimSpace(*mode)),
		TargetFile:    strings.TrimSpace(*fileFlag),
		RecordFile:    strings.TrimSpace(*record),
		Chain:         strings.TrimSpace(*chain),
		Concurrency:   *concurrency,
		Verbose:       *verbose,
		Proxy:         strings.TrimSpace(*proxy),
		OutputDir:     strings.TrimSpace(*outputDir),
		ReportDir:     strings.TrimSpace(*reportDir),
		Listen:        strings.TrimSpace(*listen),
		MaxRound:      *maxRound,
		MaxTest:       *maxTest,
		MaxCheckCount: *maxCheck,
		TxLength:      *txLength,
		RandomTxCount: *randomTx,
		OracleTimeout: *oracleTimeout,
		set:           make(map[string]bool),
	}
	fs.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	t := strings.TrimSpace(*target)
	switch {
	case t == "":
	case common.IsHexAddress(t):
		cfg.TargetAddress = t
	case looksLikeTargetFile(t):
		cfg.TargetFile = t
	default:
		cfg.TargetAddress = t
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Run() error {
	cfg, err := ParseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigChan)
		close(sigChan)
	}()

	go func() {
		count := 0
		for range sigChan {
			count++
			if count == 1 {
				fmt.Fprintln(os.Stderr, "\nInterrupt received, stopping... (press Ctrl+C again to force exit)")
				cancel()
				continue
			}
			fmt.Fprintln(os.Stderr, "\nForce exiting...")
			os.Exit(130)
		}
	}()

	return Execute(ctx, cfg)
}

func PrintFatal(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
