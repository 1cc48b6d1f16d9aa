package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envFiles lists the dotenv files Load reads, nearest first
func envFiles(dataDir string) []string {
	paths := []string{".env", filepath.Join(dataDir, ".env")}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "medtrack", ".env"))
	}
	return paths
}

// LoadEnvFiles exports the variables from each dotenv file that are not
// already set. Missing files are skipped. Earlier files win.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}

		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		for _, key := range v.AllKeys() {
			name := strings.ToUpper(key)
			if os.Getenv(name) != "" {
				continue
			}
			if err := os.Setenv(name, v.GetString(key)); err != nil {
				return err
			}
		}
	}
	return nil
}

var envAliases = map[string][]string{
	"MEDTRACK_SECURITY_JWT_SECRET":     {"MEDTRACK_JWT_SECRET", "JWT_SECRET"},
	"MEDTRACK_SECURITY_ADMIN_PASSWORD": {"MEDTRACK_ADMIN_PASSWORD", "ADMIN_PASSWORD"},
	"MEDTRACK_CONFLICTS_TABLE_FILE":    {"MEDTRACK_ALLERGY_TABLE"},
	"MEDTRACK_SERVER_PORT":             {"PORT"},
}

// ResolveEnvWithAliases reads canonicalKey, then its aliases in order
func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}
	for _, alias := range envAliases[canonicalKey] {
		if val := os.Getenv(alias); val != "" {
			return val
		}
	}
	return ""
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
