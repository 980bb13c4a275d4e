package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// parseStringSlice parses comma-separated string into slice
func parseStringSlice(s string) []string {
	parts := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// LoadEnvFile loads environment variables from a .env file. A missing file
// is not an error; variables already set in the environment win.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") && len(value) >= 2) ||
			(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") && len(value) >= 2) {
			value = value[1 : len(value)-1]
		}

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

// IsEnvFile reports whether a --config argument names a .env style file
// rather than a structured config file
func IsEnvFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".env") || strings.HasPrefix(base, ".env") || !strings.Contains(base, ".")
}

// ValidateConfigFilePath rejects paths that escape the working tree
func ValidateConfigFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("config file path cannot be empty")
	}
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return fmt.Errorf("config file path cannot contain '..': %s", path)
		}
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("config file path cannot contain null bytes")
	}
	return nil
}
