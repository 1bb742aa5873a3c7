package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const templateHeader = `# memeops configuration
# Generated by 'memeops config init'
#
# Secrets are intentionally blank. Provide them through the environment
# (MONGODB_URI, POSTGRES_PASSWORD) or fill them in here.
#
# Blank destination host, port, user and name fall back to the local
# placeholders localhost:5432, postgres and memeplatform. memeops warns
# about every placeholder in use; set real values before production.

`

// Template returns the configuration written by 'memeops config init'.
// Destination fields with a placeholder are left blank so Warnings keeps
// reporting them.
func Template() *Config {
	cfg := DefaultConfig()
	cfg.Source.URI = ""
	cfg.Source.Database = "memeplatform"
	return cfg
}

// WriteTemplate writes the template config into dir and returns its path. An
// existing file is never overwritten.
func WriteTemplate(dir string) (string, error) {
	path := filepath.Join(dir, "memeops.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("configuration file already exists: %s", path)
	}

	data, err := yaml.Marshal(Template())
	if err != nil {
		return "", fmt.Errorf("failed to render configuration: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(templateHeader), data...), 0o600); err != nil {
		return "", fmt.Errorf("failed to write configuration: %w", err)
	}
	return path, nil
}
