package config

import (
	"time"
)

// RunConfiguration is the merged view of defaults, settings.yaml and CLI
// flags for one invocation.
type RunConfiguration struct {
	Mode          string
	TargetAddress string
	TargetFile    string
	RecordFile    string
	Chain         string
	Network       string
	Concurrency   int
	Verbose       bool
	Proxy         string
	OutputDir     string
	ReportDir     string
	LogDir        string
	Listen        string
	// ServeAPI exposes the HTTP API while the mode runs.
	ServeAPI bool

	MaxRound      int
	MaxTest       int
	MaxCheckCount int
	TxLength      int
	RandomTxCount int

	OracleTimeout time.Duration
}

func DefaultRunConfiguration() RunConfiguration {
	return RunConfiguration{
		Mode:          "analyze",
		Chain:         "eth",
		Network:       "ETH",
		Concurrency:   4,
		OutputDir:     "record_data",
		LogDir:        "logs",
		Listen:        "127.0.0.1:8089",
		MaxRound:      10,
		MaxTest:       100,
		MaxCheckCount: 50,
		TxLength:      1000,
		RandomTxCount: 50,
		OracleTimeout: 300 * time.Second,
	}
}
