package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config reúne todos los parámetros del plano de servicio. Se construye
// en main y se comparte por referencia (nada de globales de módulo).
type Config struct {
	HTTPPort int `yaml:"http_port"`
	Workers  int `yaml:"workers"`

	WorkerSockPattern string `yaml:"worker_sock_pattern"`
	MetricsSock       string `yaml:"metrics_sock"`

	DBPath       string        `yaml:"db_path"`
	Table        string        `yaml:"table"`
	SyncInterval time.Duration `yaml:"sync_interval"`

	StagingDir string `yaml:"staging_dir"`
	OutBase    string `yaml:"out_base"`
	DBDir      string `yaml:"db_dir"`
	UploadPage string `yaml:"upload_page"`

	// Admisión de uploads (token bucket).
	UploadRate  float64 `yaml:"upload_rate"`
	UploadBurst int     `yaml:"upload_burst"`

	// Pesos del score y suavizado EMA.
	Alpha     float64 `yaml:"alpha"`
	Beta      float64 `yaml:"beta"`
	Gamma     float64 `yaml:"gamma"`
	EMAFactor float64 `yaml:"ema_factor"`

	// Topes de normalización.
	MaxCPUPercent float64 `yaml:"max_cpu_percent"`
	MaxMemMB      float64 `yaml:"max_mem_mb"`
	MaxIORate     float64 `yaml:"max_io_rate"`
}

// Default devuelve la configuración con los valores del diseño original.
func Default() Config {
	return Config{
		HTTPPort:          8080,
		Workers:           4,
		WorkerSockPattern: "/tmp/faas_worker_%d.sock",
		MetricsSock:       "/tmp/faas_lb_metrics.sock",
		DBPath:            "faas_meta.db",
		Table:             "functions",
		SyncInterval:      5 * time.Second,
		StagingDir:        "/tmp/progfile",
		OutBase:           "/opt/functions",
		DBDir:             "/var/lib/faas_db",
		UploadPage:        "pages/upload.html",
		UploadRate:        10,
		UploadBurst:       20,
		Alpha:             0.5,
		Beta:              0.3,
		Gamma:             0.2,
		EMAFactor:         0.7,
		MaxCPUPercent:     100,
		MaxMemMB:          512,
		MaxIORate:         10000,
	}
}

// Load parte de Default, mezcla el YAML (si path != "") y por último
// aplica overrides de entorno. El archivo es opcional (path vacío = sin
// YAML), pero si se indica un path que no existe se devuelve un error
// para que el operador note el typo.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "config read")
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrap(err, "config yaml")
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WorkerSock devuelve la ruta del socket del worker k.
func (c Config) WorkerSock(k int) string {
	return fmt.Sprintf(c.WorkerSockPattern, k)
}

func (c *Config) applyEnv() {
	c.HTTPPort = getenvInt("FAAS_HTTP_PORT", c.HTTPPort)
	c.Workers = getenvInt("FAAS_WORKERS", c.Workers)
	c.DBPath = getenvStr("FAAS_DB_PATH", c.DBPath)
	c.StagingDir = getenvStr("FAAS_STAGING_DIR", c.StagingDir)
	c.OutBase = getenvStr("FAAS_OUT_BASE", c.OutBase)
	c.DBDir = getenvStr("FAAS_DB_DIR", c.DBDir)
	c.SyncInterval = getenvDur("FAAS_SYNC_INTERVAL", c.SyncInterval)
}

func (c Config) validate() error {
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.SyncInterval <= 0 {
		return errors.New("config: sync_interval must be positive")
	}
	sum := c.Alpha + c.Beta + c.Gamma
	if sum < 0.99 || sum > 1.01 {
		return errors.Errorf("config: score weights must sum 1 (got %.2f)", sum)
	}
	return nil
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDur(key string, def time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return def
}
