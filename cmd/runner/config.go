package main

import (
	"fmt"
	"os"
	"time"

	"coderunner/internal/sandbox/setup"
	"coderunner/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the stdin runner configuration.
type AppConfig struct {
	Logger  logger.Config `yaml:"logger"`
	Sandbox setup.Config  `yaml:"sandbox"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path when given; flag values override the file.
func loadAppConfig(path, workDir string, timeout time.Duration) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	if workDir != "" {
		cfg.Sandbox.Workspace.Root = workDir
	}
	if timeout > 0 {
		cfg.Sandbox.Exec.Deadline = timeout
	}
	// stdout carries only the record.
	cfg.Logger.OutputPath = "stderr"
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "warn"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
	return &cfg, nil
}
