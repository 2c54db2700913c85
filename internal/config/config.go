// Package config provides application configuration: connection secrets
// and tunables from environment variables (with .env support), and
// operator-editable sync data (pipeline order, CRM field map) from a TOML
// file that can be reloaded without restarting the daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds the environment-derived configuration.
type Config struct {
	// BitrixWebhook is the inbound webhook base URL, auth token included.
	BitrixWebhook string

	// GSPN MySQL connection parameters.
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string

	// LedgerPath is the SQLite propagation ledger location.
	LedgerPath string

	// SyncFilePath points at the TOML file holding pipelines and the
	// CRM field map.
	SyncFilePath string

	// PassInterval is the idle time between full passes.
	PassInterval time.Duration

	// Bitrix token-bucket parameters.
	RequestsPerSec float64
	Burst          int

	// LogLevel is the logging level ("debug", "info", "warn", "error").
	LogLevel string
}

// Load reads configuration from environment variables, after loading a
// .env file when one exists. An explicitly named envFile overrides
// variables already present in the environment; the implicit .env search
// never does.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Overload(envFile); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	} else {
		loadDotEnv()
	}

	cfg := &Config{
		BitrixWebhook:  env.GetString("BITRIX_WEBHOOK", ""),
		DBHost:         env.GetString("DB_HOST", "127.0.0.1:3306"),
		DBUser:         env.GetString("DB_USER", ""),
		DBPassword:     env.GetString("DB_PASSWORD", ""),
		DBName:         env.GetString("DB_NAME", "gspn2"),
		LedgerPath:     env.GetString("LEDGER_PATH", "processed_logs.db"),
		SyncFilePath:   env.GetString("SYNC_FILE", "sync.toml"),
		PassInterval:   env.GetDuration("PASS_INTERVAL_SECONDS", 60, time.Second),
		RequestsPerSec: env.GetFloat64("BITRIX_REQUESTS_PER_SEC", 2.0),
		Burst:          env.GetInt("BITRIX_BURST", 2),
		LogLevel:       env.GetString("LOG_LEVEL", "info"),
	}

	if cfg.BitrixWebhook == "" {
		return nil, fmt.Errorf("config: BITRIX_WEBHOOK is required")
	}

	return cfg, nil
}

// loadDotEnv searches for a .env file from the current directory up to
// the filesystem root and loads the first one found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}
}

// SyncFile is the operator-editable portion of the configuration: which
// pipelines to process, in which order, and how order attributes map onto
// CRM user fields.
type SyncFile struct {
	// Pipelines lists category IDs in processing order.
	Pipelines []int `toml:"pipelines"`

	// Fields maps named order attributes to CRM user-field identifiers
	// (UF_CRM_*). Unknown keys are rejected at load time so typos
	// surface immediately instead of as silently missing fields.
	Fields FieldMap `toml:"fields"`
}

// FieldMap holds the CRM user-field identifier for each attribute the
// engine can write. Empty entries are skipped during updates.
type FieldMap struct {
	Status            string `toml:"status"`
	Substatus         string `toml:"substatus"`
	JobNo             string `toml:"job_no"`
	ServiceType       string `toml:"service_type"`
	WarrantyType      string `toml:"warranty_type"`
	Product           string `toml:"product"`
	IrisRepair        string `toml:"iris_repair"`
	WarrantyException string `toml:"warranty_exception"`
	CompleteDate      string `toml:"complete_date"`
	Model             string `toml:"model"`
	SerialNo          string `toml:"serial_no"`
	DefectDesc        string `toml:"defect_desc"`
}

// LoadSyncFile parses the TOML sync file at path. Unknown keys are an
// error (strict decoding) and at least one pipeline is required.
func LoadSyncFile(path string) (*SyncFile, error) {
	var sf SyncFile

	meta, err := toml.DecodeFile(path, &sf)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
	}

	if len(sf.Pipelines) == 0 {
		return nil, fmt.Errorf("config: %s: at least one pipeline is required", path)
	}

	return &sf, nil
}
