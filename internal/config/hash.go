package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Fingerprint returns the BLAKE3 hash of the file the config was loaded from,
// so operators can tell which revision a running worker picked up.
func (c *Config) Fingerprint() (string, error) {
	if c.SourcePath == "" {
		return "", fmt.Errorf("config was not loaded from a file")
	}
	return ComputeBlake3Hash(c.SourcePath)
}
