package db

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

const (
	driverName = "mysql"

	// DefaultConfigPath は -config 未指定時の探索先
	DefaultConfigPath = "config/config.yaml"
)

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type ReaderConfig struct {
	// simulator | felica（現状 simulator のみ実装）
	Driver string `yaml:"driver"`
}

type LendingConfig struct {
	UndoWindowSeconds int   `yaml:"undo_window_seconds"`
	CardWaitSeconds   int   `yaml:"card_wait_seconds"`
	LowBalanceWarning int64 `yaml:"low_balance_warning"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	TLSAddr string `yaml:"tls_addr"`
}

type Config struct {
	Version     string         `yaml:"version"`
	Mode        string         `yaml:"mode"`
	DB          DatabaseConfig `yaml:"database"`
	Certificate Certs          `yaml:"certificate"`
	Auth        AuthConfig     `yaml:"auth"`
	Reader      ReaderConfig   `yaml:"reader"`
	Lending     LendingConfig  `yaml:"lending"`
	Server      ServerConfig   `yaml:"server"`
}

func (c LendingConfig) UndoWindow() time.Duration {
	if c.UndoWindowSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.UndoWindowSeconds) * time.Second
}

func (c LendingConfig) CardWait() time.Duration {
	if c.CardWaitSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.CardWaitSeconds) * time.Second
}

func (c LendingConfig) LowBalance() int64 {
	if c.LowBalanceWarning <= 0 {
		return 1000
	}
	return c.LowBalanceWarning
}

func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	cfg.applyEnv()
	return &cfg, nil
}

// 秘匿値は環境変数（.env 経由を含む）で上書き可能にする
func (c *Config) applyEnv() {
	if v := os.Getenv("ICCARD_DB_PASSWORD"); v != "" {
		c.DB.Password = v
	}
	if v := os.Getenv("ICCARD_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=false&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC&multiStatements=true",
		c.Username, c.Password, c.Host, c.Port, c.DBName)
}

func Connect(c DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(driverName, c.DSN())
	if err != nil {
		return nil, fmt.Errorf("接続準備に失敗: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}

	// 接続プール（合算がMySQLの max_connections を超えないよう配分する）
	db.SetMaxOpenConns(80)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}
