// Package config carga la configuración de la herramienta desde fichero YAML
// y variables de entorno con prefijo SONDARE_.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config configuración completa del escáner
type Config struct {
	Scan    ScanConfig    `mapstructure:"scan"`
	Scripts ScriptsConfig `mapstructure:"scripts"`
	Log     LogConfig     `mapstructure:"log"`
}

// ScanConfig parámetros por defecto de escaneo
type ScanConfig struct {
	TimeoutMs     int    `mapstructure:"timeout_ms"`
	Concurrency   int    `mapstructure:"concurrency"`
	StartPort     int    `mapstructure:"start_port"`
	EndPort       int    `mapstructure:"end_port"`
	ScanType      string `mapstructure:"scan_type"`
	SignatureFile string `mapstructure:"signature_file"`
}

// ScriptsConfig parámetros de la ejecución de scripts
type ScriptsConfig struct {
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// LogConfig configuración del log
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text o json
	Output     string `mapstructure:"output"` // stdout, stderr o file
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Timeout timeout de probe como duración
func (c ScanConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Timeout presupuesto por script como duración
func (c ScriptsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Load carga la configuración: defaults → fichero (si existe) → entorno.
// configPath vacío busca sondare.yaml en el directorio actual y en ~/.sondare.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SONDARE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error leyendo configuración: %w", err)
		}
	} else {
		v.SetConfigName("sondare")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sondare")
		// Sin fichero no es error: valen los defaults y el entorno
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("error leyendo configuración: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parseando configuración: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scan.timeout_ms", 3000)
	v.SetDefault("scan.concurrency", 50)
	v.SetDefault("scan.start_port", 1)
	v.SetDefault("scan.end_port", 1024)
	v.SetDefault("scan.scan_type", "connect")

	v.SetDefault("scripts.timeout_ms", 5000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)
}

func validate(cfg *Config) error {
	if cfg.Scan.TimeoutMs <= 0 {
		return fmt.Errorf("scan.timeout_ms debe ser positivo, recibido %d", cfg.Scan.TimeoutMs)
	}
	if cfg.Scan.Concurrency <= 0 {
		return fmt.Errorf("scan.concurrency debe ser positivo, recibido %d", cfg.Scan.Concurrency)
	}
	if cfg.Scan.StartPort < 1 || cfg.Scan.EndPort > 65535 || cfg.Scan.StartPort > cfg.Scan.EndPort {
		return fmt.Errorf("rango de puertos inválido: %d-%d", cfg.Scan.StartPort, cfg.Scan.EndPort)
	}
	if cfg.Log.Output == "file" && cfg.Log.FilePath == "" {
		return fmt.Errorf("log.file_path es obligatorio cuando log.output es file")
	}
	return nil
}
