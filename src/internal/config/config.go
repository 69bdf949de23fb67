package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnv lets the environment override secrets and paths from the file.
func (c *AppConfig) applyEnv() {
	c.Oracle.Binary = getEnv("CROSSLEAK_ORACLE_BIN", c.Oracle.Binary)
	c.Database.DSN = getEnv("CROSSLEAK_DB_DSN", c.Database.DSN)
	c.Database.Password = getEnv("CROSSLEAK_DB_PASSWORD", c.Database.Password)
	if dir := getEnv("CROSSLEAK_OUTPUT_DIR", ""); dir != "" {
		if c.Oracle.RecordDir == c.Analysis.OutputDir {
			c.Oracle.RecordDir = dir
		}
		c.Analysis.OutputDir = dir
	}
	c.Analysis.Concurrency = getEnvAsInt("CROSSLEAK_CONCURRENCY", c.Analysis.Concurrency)
}

// envAPIKeys reads ETHERSCAN_API_KEYS, a comma separated list.
func envAPIKeys() []string {
	return getEnvList("ETHERSCAN_API_KEYS")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
