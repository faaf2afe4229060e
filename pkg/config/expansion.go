package config

import (
	"os"
	"regexp"
	"strings"
)

// ${VAR} and ${VAR:-default} references inside the YAML config file.
var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv substitutes environment variable references in raw config text
// before YAML parsing. Unset variables without a default expand to "".
func expandEnv(raw string) string {
	return envRefRe.ReplaceAllStringFunc(raw, func(match string) string {
		groups := envRefRe.FindStringSubmatch(match)
		name := groups[1]
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if groups[2] != "" {
			return groups[3]
		}
		return ""
	})
}

// NormalizeModelName lowercases and trims a model name for table lookups.
func NormalizeModelName(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
