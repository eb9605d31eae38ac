package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeAccounts(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sns.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SNS_ACCOUNTS_FILE", writeAccounts(t, `{"x": ["main", "jobs"], "instagram": ["brand"]}`))

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "7700", cfg.Port)
	require.Equal(t, "http://localhost:7700/", cfg.BaseURL)
	require.Equal(t, 1, cfg.RequiredApprovals)
	require.True(t, cfg.ReviewersOnly)
	require.Equal(t, []string{"✅", "👍"}, cfg.ApproveReactions)
	require.Equal(t, []string{"❌", "👎"}, cfg.RejectReactions)
	require.Equal(t, 5*time.Minute, cfg.GracePeriod)
	require.Equal(t, 30*time.Minute, cfg.FormLinkTTL)
	require.Equal(t, []string{"instagram", "x"}, cfg.Platforms())
	require.Equal(t, []string{"main", "jobs"}, cfg.Accounts["x"])
	require.False(t, cfg.MatrixEnabled())
	require.True(t, cfg.RunWeb())
	require.True(t, cfg.RunChat())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SNS_ACCOUNTS_FILE", writeAccounts(t, `{"x": ["main"]}`))
	t.Setenv("REQUIRED_APPROVALS", "3")
	t.Setenv("REVIEWER_IDS", " @a:example.org, ,@b:example.org ")
	t.Setenv("BASE_URL", "https://bot.example.org")
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "@bot:example.org")
	t.Setenv("MATRIX_ACCESS_TOKEN", "token")
	t.Setenv("MODE", "chat")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 3, cfg.RequiredApprovals)
	require.Equal(t, []string{"@a:example.org", "@b:example.org"}, cfg.ReviewerIDs)
	require.Equal(t, "https://bot.example.org/", cfg.BaseURL)
	require.True(t, cfg.MatrixEnabled())
	require.False(t, cfg.RunWeb())
	require.True(t, cfg.RunChat())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero approvals", map[string]string{"REQUIRED_APPROVALS": "0"}},
		{"not a number", map[string]string{"REQUIRED_APPROVALS": "many"}},
		{"overlapping reactions", map[string]string{"APPROVE_REACTIONS": "✅", "REJECT_REACTIONS": "✅"}},
		{"unknown mode", map[string]string{"MODE": "slack"}},
		{"missing accounts file", map[string]string{"SNS_ACCOUNTS_FILE": "/nonexistent/sns.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SNS_ACCOUNTS_FILE", writeAccounts(t, `{"x": ["main"]}`))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestParseAccounts(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected map[string][]string
		wantErr  bool
	}{
		{"strings", `{"x": ["main"]}`, map[string][]string{"x": {"main"}}, false},
		{"objects", `{"x": [{"name": "main", "token": "secret"}, " "]}`, map[string][]string{"x": {"main"}}, false},
		{"invalid json", `{"x": [`, nil, true},
		{"not an object", `["x"]`, nil, true},
		{"accounts not a list", `{"x": "main"}`, nil, true},
		{"empty", `{}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAccounts([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
		})
	}
}
