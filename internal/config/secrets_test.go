package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withStdin(t *testing.T, content string) {
	t.Helper()
	orig := stdin
	t.Cleanup(func() { stdin = orig })
	stdin = strings.NewReader(content)
}

func TestCheckStdinSecrets(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr []string
	}{
		{
			name:  "no stdin",
			files: map[string]string{"database.dsn_file": "/run/dsn", "api.key_file": "/run/key"},
		},
		{
			name:  "single stdin",
			files: map[string]string{"database.dsn_file": "@-", "api.key_file": "/run/key"},
		},
		{
			name: "two stdin",
			files: map[string]string{
				"api.key_file":                 " @- ",
				"server.admin.auth_token_file": "@-",
				"database.password_file":       "/run/password",
			},
			wantErr: []string{"api.key_file", "server.admin.auth_token_file"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.files {
				v.Set(k, val)
			}
			err := checkStdinSecrets(v)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, key := range tt.wantErr {
				assert.Contains(t, err.Error(), key)
			}
			assert.NotContains(t, err.Error(), "database.password_file")
		})
	}
}

func TestResolveSecrets(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "api-key")
	require.NoError(t, os.WriteFile(keyFile, []byte("  k-123\n"), 0o600))
	emptyFile := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(emptyFile, nil, 0o600))

	t.Run("file and stdin", func(t *testing.T) {
		withStdin(t, "redis-pass\n")
		v := viper.New()
		v.Set("api.key_file", keyFile)
		v.Set("cache.redis.password_file", stdinPath)

		require.NoError(t, resolveSecrets(v))
		assert.Equal(t, "k-123", v.GetString("api.key"))
		assert.Equal(t, "redis-pass", v.GetString("cache.redis.password"))
	})

	t.Run("direct value wins", func(t *testing.T) {
		v := viper.New()
		v.Set("api.key", "direct")
		v.Set("api.key_file", filepath.Join(dir, "missing"))

		require.NoError(t, resolveSecrets(v))
		assert.Equal(t, "direct", v.GetString("api.key"))
	})

	t.Run("missing file", func(t *testing.T) {
		v := viper.New()
		v.Set("database.dsn_file", filepath.Join(dir, "missing"))

		err := resolveSecrets(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database DSN")
	})

	t.Run("empty file", func(t *testing.T) {
		v := viper.New()
		v.Set("server.admin.auth_token_file", emptyFile)

		err := resolveSecrets(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is empty")
	})
}
