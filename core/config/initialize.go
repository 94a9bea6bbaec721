package config

import (
	"log"
	"os"
	"path/filepath"
)

// Initialize writes the default configuration into the directory. Existing
// files are left alone so init is safe to run repeatedly.
func Initialize(path string, logger *log.Logger) error {
	if err := os.MkdirAll(path, 0700); err != nil {
		return err
	}

	configPath := filepath.Join(path, ConfigurationName)
	if _, err := os.Stat(configPath); err == nil {
		logger.Printf("%s already exists, skipping", ConfigurationName)
		return nil
	}

	if err := os.WriteFile(configPath, defaultConfigData, 0600); err != nil {
		return err
	}
	logger.Printf("wrote %s", ConfigurationName)
	return nil
}
