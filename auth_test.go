package mcpscope_test

import (
	"testing"

	"github.com/mcpscope/mcpscope"
)

func TestBuildAuthHeaders(t *testing.T) {
	tests := []struct {
		name       string
		endpoint   string
		authHeader string
		apiKey     string
		env        map[string]string
		want       string
	}{
		{
			name:       "explicit bearer header kept verbatim",
			endpoint:   "https://api.example.com/mcp",
			authHeader: "Bearer abc123",
			want:       "Bearer abc123",
		},
		{
			name:       "explicit basic header kept verbatim",
			endpoint:   "https://api.example.com/mcp",
			authHeader: "Basic dXNlcjpwYXNz",
			want:       "Basic dXNlcjpwYXNz",
		},
		{
			name:       "bare token promoted to bearer",
			endpoint:   "https://api.example.com/mcp",
			authHeader: "rawtoken",
			want:       "Bearer rawtoken",
		},
		{
			name:     "explicit api key",
			endpoint: "https://api.example.com/mcp",
			apiKey:   "key-1",
			want:     "Bearer key-1",
		},
		{
			name:       "explicit header beats api key",
			endpoint:   "https://api.example.com/mcp",
			authHeader: "Bearer header-wins",
			apiKey:     "key-loses",
			want:       "Bearer header-wins",
		},
		{
			name:     "host scoped env key",
			endpoint: "https://api.example-corp.com/mcp",
			env:      map[string]string{"MCPSCOPE_API_EXAMPLE_CORP_COM_KEY": "host-key"},
			want:     "Bearer host-key",
		},
		{
			name:     "host key beats global key",
			endpoint: "https://api.example.com/mcp",
			env: map[string]string{
				"MCPSCOPE_API_EXAMPLE_COM_KEY": "host-key",
				"MCPSCOPE_API_KEY":             "global-key",
			},
			want: "Bearer host-key",
		},
		{
			name:     "global env key",
			endpoint: "https://other.example.com/mcp",
			env:      map[string]string{"MCPSCOPE_API_KEY": "global-key"},
			want:     "Bearer global-key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			headers := mcpscope.BuildAuthHeaders(tt.endpoint, tt.authHeader, tt.apiKey)
			if got := headers["Authorization"]; got != tt.want {
				t.Errorf("authorization. Got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildAuthHeadersNoCredentials(t *testing.T) {
	t.Setenv("MCPSCOPE_API_KEY", "")

	headers := mcpscope.BuildAuthHeaders("https://anon.example.net/mcp", "", "")
	if len(headers) != 0 {
		t.Errorf("no credentials should yield no headers, got %v", headers)
	}
}
