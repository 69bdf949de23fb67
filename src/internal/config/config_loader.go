package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type ChainConfig struct {
	Name    string `yaml:"name"`
	ChainID int    `yaml:"chain_id"`
	// Network is the chain identifier understood by the oracle: ETH, BSC,
	// ARBITRUM, ZKEVM or POLYGON.
	Network  string   `yaml:"network"`
	RPCURLs  []string `yaml:"rpc_urls"`
	Explorer Explorer `yaml:"explorer"`
}

type Explorer struct {
	APIKey  string   `yaml:"api_key"`
	APIKeys []string `yaml:"api_keys"`
	BaseURL string   `yaml:"base_url"`
}

type AnalysisConfig struct {
	MaxRound      int    `yaml:"max_round"`
	MaxTest       int    `yaml:"max_test"`
	MaxCheckCount int    `yaml:"max_check_count"`
	TxLength      int    `yaml:"tx_length"`
	RandomTxCount int    `yaml:"random_tx_count"`
	Concurrency   int    `yaml:"concurrency"`
	OutputDir     string `yaml:"output_dir"`
}

type OracleConfig struct {
	Binary    string        `yaml:"binary"`
	WorkDir   string        `yaml:"work_dir"`
	RecordDir string        `yaml:"record_dir"`
	Timeout   time.Duration `yaml:"timeout"`
}

type AnalyzerConfig struct {
	Backend    string        `yaml:"backend"`
	PythonPath string        `yaml:"python_path"`
	ScriptPath string        `yaml:"script_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	// Driver is sqlite, postgres or mysql. Empty disables the database.
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type CacheConfig struct {
	Dir string        `yaml:"dir"`
	TTL time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type AppConfig struct {
	Chains   map[string]ChainConfig `yaml:"chains"`
	Analysis AnalysisConfig         `yaml:"analysis"`
	Oracle   OracleConfig           `yaml:"oracle"`
	Analyzer AnalyzerConfig         `yaml:"analyzer"`
	Database DatabaseConfig         `yaml:"database"`
	Cache    CacheConfig            `yaml:"cache"`
	Server   ServerConfig           `yaml:"server"`
}

var GlobalConfig *AppConfig
var loadOnce sync.Once
var loadedConfig *AppConfig
var loadedErr error

// LoadConfig loads settings.yaml once per process.
func LoadConfig() (*AppConfig, error) {
	loadOnce.Do(func() {
		configPath := findConfigFile()
		if configPath == "" {
			loadedErr = fmt.Errorf("The configuration file settings.yaml was not found.")
			return
		}
		loadedConfig, loadedErr = LoadConfigFile(configPath)
		GlobalConfig = loadedConfig
	})

	if loadedErr != nil {
		return nil, loadedErr
	}
	return loadedConfig, nil
}

func LoadConfigFile(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read configuration file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, fills defaults and applies environment
// overrides.
func ParseConfig(data []byte) (*AppConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("Failed to parse configuration file: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

// Default is the configuration used when no file is present.
func Default() *AppConfig {
	cfg := &AppConfig{Chains: map[string]ChainConfig{}}
	cfg.applyDefaults()
	return cfg
}

func (c *AppConfig) applyDefaults() {
	a := &c.Analysis
	if a.MaxRound <= 0 {
		a.MaxRound = 10
	}
	if a.MaxTest <= 0 {
		a.MaxTest = 100
	}
	if a.MaxCheckCount <= 0 {
		a.MaxCheckCount = 50
	}
	if a.TxLength <= 0 {
		a.TxLength = 1000
	}
	if a.RandomTxCount <= 0 {
		a.RandomTxCount = 50
	}
	if a.Concurrency <= 0 {
		a.Concurrency = 4
	}
	if a.OutputDir == "" {
		a.OutputDir = "record_data"
	}
	if c.Oracle.Timeout <= 0 {
		c.Oracle.Timeout = 300 * time.Second
	}
	if c.Oracle.RecordDir == "" {
		c.Oracle.RecordDir = c.Analysis.OutputDir
	}
	if c.Analyzer.Backend == "" {
		c.Analyzer.Backend = "python_script"
	}
	if c.Analyzer.PythonPath == "" {
		c.Analyzer.PythonPath = "python3"
	}
	if c.Analyzer.Timeout <= 0 {
		c.Analyzer.Timeout = 120 * time.Second
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 24 * time.Hour
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8089"
	}
	if c.Chains == nil {
		c.Chains = map[string]ChainConfig{}
	}
}

func findConfigFile() string {
	possiblePaths := []string{
		"config/settings.yaml",
		"settings.yaml",
		"src/config/settings.yaml",
		"../config/settings.yaml",
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// GetChainConfig looks a chain up by key or by network identifier,
// ignoring case.
func (c *AppConfig) GetChainConfig(chainName string) (*ChainConfig, error) {
	if chain, ok := c.Chains[chainName]; ok {
		return chain.normalized(chainName), nil
	}
	for key, chain := range c.Chains {
		if strings.EqualFold(key, chainName) || strings.EqualFold(chain.Network, chainName) {
			return chain.normalized(key), nil
		}
	}
	if _, ok := NetworkEndpoints[strings.ToUpper(chainName)]; ok {
		chain := ChainConfig{Name: strings.ToLower(chainName), Network: strings.ToUpper(chainName)}
		return chain.normalized(chainName), nil
	}
	return nil, fmt.Errorf("Unsupported chain: %s", chainName)
}

func (c ChainConfig) normalized(key string) *ChainConfig {
	if c.Name == "" {
		c.Name = key
	}
	if c.Network == "" {
		c.Network = strings.ToUpper(key)
	}
	c.Network = strings.ToUpper(c.Network)
	if keys := envAPIKeys(); len(keys) > 0 {
		c.Explorer.APIKeys = keys
	}
	return &c
}

// APIKeys lists the configured explorer keys, falling back to the single
// api_key entry.
func (c *ChainConfig) APIKeys() []string {
	if len(c.Explorer.APIKeys) > 0 {
		return c.Explorer.APIKeys
	}
	if c.Explorer.APIKey != "" {
		return []string{c.Explorer.APIKey}
	}
	return nil
}

// ExplorerBaseURL is the explorer API endpoint of the chain.
func (c *ChainConfig) ExplorerBaseURL() (string, error) {
	if c.Explorer.BaseURL != "" {
		return c.Explorer.BaseURL, nil
	}
	endpoint, ok := NetworkEndpoints[strings.ToUpper(c.Network)]
	if !ok {
		return "", fmt.Errorf("no explorer endpoint for network %q", c.Network)
	}
	return endpoint, nil
}

// NetworkEndpoints maps oracle network identifiers to explorer APIs.
var NetworkEndpoints = map[string]string{
	"ETH":      "https://api.etherscan.io/api",
	"BSC":      "https://api.bscscan.com/api",
	"ARBITRUM": "https://api.arbiscan.io/api",
	"ZKEVM":    "https://api-era.zksync.network/api",
	"POLYGON":  "https://api.polygonscan.com/api",
}

func GetConfigPath() string {
	return findConfigFile()
}

func GetConfigDir() string {
	configPath := findConfigFile()
	if configPath == "" {
		return "config"
	}
	return filepath.Dir(configPath)
}
