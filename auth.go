package mcpscope

import (
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// Environment variables consulted for HTTP authentication.
const (
	envAPIKey        = "MCPSCOPE_API_KEY"
	envHostKeyStem   = "MCPSCOPE_"
	envHostKeySuffix = "_KEY"
)

// BuildAuthHeaders resolves the Authorization header for an HTTP endpoint.
// Resolution order: an explicit header value, an explicit API key, a
// host-scoped environment key, the global environment key, then no auth at
// all. An explicit header already carrying a Bearer or Basic scheme is used
// verbatim; a bare token is promoted to a Bearer credential.
func BuildAuthHeaders(endpoint, authHeader, apiKey string) map[string]string {
	if authHeader != "" {
		return map[string]string{"Authorization": normalizeAuthHeader(authHeader)}
	}
	if apiKey != "" {
		return map[string]string{"Authorization": "Bearer " + apiKey}
	}

	if key := hostScopedKey(endpoint); key != "" {
		if value := os.Getenv(key); value != "" {
			slog.Debug("using host-scoped api key", "env", key)
			return map[string]string{"Authorization": "Bearer " + value}
		}
	}
	if value := os.Getenv(envAPIKey); value != "" {
		return map[string]string{"Authorization": "Bearer " + value}
	}

	return map[string]string{}
}

func normalizeAuthHeader(value string) string {
	trimmed := strings.TrimSpace(value)
	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "bearer ") || strings.HasPrefix(lowered, "basic ") {
		return trimmed
	}
	return "Bearer " + trimmed
}

// hostScopedKey derives the environment variable name holding a key for a
// specific host, e.g. https://api.example.com yields
// MCPSCOPE_API_EXAMPLE_COM_KEY.
func hostScopedKey(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return ""
	}

	host := strings.ToUpper(u.Hostname())
	host = strings.NewReplacer(".", "_", "-", "_").Replace(host)
	return envHostKeyStem + host + envHostKeySuffix
}
