package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

const lockSuffix = ".b3"

var ErrIntegrity = errors.New("config integrity check failed")

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// LockPath returns the sidecar path for a config file.
func LockPath(configPath string) string {
	return configPath + lockSuffix
}

// WriteLock hashes configPath and writes the sidecar next to it.
func WriteLock(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(LockPath(configPath), []byte(hash+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write lock: %w", err)
	}
	return hash, nil
}

// VerifyLock checks configPath against its sidecar. A missing sidecar passes.
func VerifyLock(configPath string) error {
	data, err := os.ReadFile(LockPath(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock: %w", err)
	}

	expected := strings.TrimSpace(string(data))
	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w: hash mismatch for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: herd config lock",
			ErrIntegrity, filepath.Base(configPath), expected, actual)
	}
	return nil
}
