package config

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDatabase connects to the configured store. It returns nil, nil when no
// driver is configured.
func OpenDatabase(ctx context.Context, cfg DatabaseConfig) (*gorm.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "":
		return nil, nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join("record_data", "crossleak.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(PostgresDSN(cfg)), gormCfg)
	case "mysql":
		if err := ensureMySQLDatabase(ctx, cfg); err != nil {
			return nil, err
		}
		db, err = gorm.Open(gormmysql.Open(MySQLDSN(cfg, true)), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

// MySQLDSN formats a go-sql-driver DSN. With includeDBName false it points at
// the server, which is used to create the database on first start.
func MySQLDSN(cfg DatabaseConfig, includeDBName bool) string {
	if cfg.DSN != "" && includeDBName {
		return cfg.DSN
	}
	port := cfg.Port
	if port == "" {
		port = "3306"
	}
	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, port)
	mc.ParseTime = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	if includeDBName {
		mc.DBName = cfg.Name
	}
	return mc.FormatDSN()
}

func PostgresDSN(cfg DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.User, cfg.Password, cfg.Name, sslMode)
}

func ensureMySQLDatabase(ctx context.Context, cfg DatabaseConfig) error {
	if cfg.DSN != "" || cfg.Name == "" {
		return nil
	}
	root, err := sql.Open("mysql", MySQLDSN(cfg, false))
	if err != nil {
		return fmt.Errorf("failed to open mysql server connection: %w", err)
	}
	defer root.Close()

	createDBSQL := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", cfg.Name)
	if _, err := root.ExecContext(ctx, createDBSQL); err != nil {
		return fmt.Errorf("failed to create database %s: %w", cfg.Name, err)
	}
	return nil
}
