package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	appEnvVar = "APP_ENV"

	// DefaultPath is used when no -config flag is given.
	DefaultPath = "config/config.yml"

	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
	EnvironmentStaging     = "staging"
)

var environmentAliases = map[string]string{
	"dev":   EnvironmentDevelopment,
	"prod":  EnvironmentProduction,
	"stag":  EnvironmentStaging,
	"stage": EnvironmentStaging,
}

// AppEnvironment returns the normalised APP_ENV value, defaulting to
// development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return EnvironmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProductionLike reports whether env should fail hard on optional
// integrations that cannot start.
func IsProductionLike(env string) bool {
	switch env {
	case EnvironmentProduction, EnvironmentStaging:
		return true
	default:
		return false
	}
}

// ResolvePath picks config/config.{env}.yml next to the default file when it
// exists and the caller did not ask for an explicit path.
func ResolvePath(path string) string {
	if path == "" {
		path = DefaultPath
	}
	if path != DefaultPath {
		return path
	}

	ext := filepath.Ext(DefaultPath)
	envPath := strings.TrimSuffix(DefaultPath, ext) + "." + AppEnvironment() + ext
	if _, err := os.Stat(envPath); err == nil {
		return envPath
	}
	return path
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored and existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}
