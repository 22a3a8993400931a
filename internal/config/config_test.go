package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/seriesview/internal/domain"
)

func loadFresh(t *testing.T, path string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	return Load(path)
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadFresh(t, "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Address())
	assert.Equal(t, "series-", cfg.Staging.Prefix)
	assert.Equal(t, os.TempDir(), cfg.Staging.Root)
	assert.Equal(t, 40, cfg.Readiness.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Readiness.Delay)
	assert.Equal(t, 300*time.Millisecond, cfg.Viewer.SettleDelay)
	assert.NotEmpty(t, cfg.Viewer.KillCommand)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORS.AllowedOrigins)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seriesview.yaml")
	content := `
server:
  port: 9000
readiness:
  max_attempts: 10
  delay: 50ms
viewer:
  executable: /usr/local/bin/mango
  kill_command: ["killall", "{image}"]
storage:
  s3:
    enabled: true
    region: eu-central-1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SERIESVIEW_READINESS_MAX_ATTEMPTS", "12")
	t.Setenv("SERIESVIEW_BACKEND_BASE_URL", "https://pacs.hospital.local")

	cfg, err := loadFresh(t, path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Readiness.MaxAttempts, "environment overrides the file")
	assert.Equal(t, 50*time.Millisecond, cfg.Readiness.Delay)
	assert.Equal(t, "/usr/local/bin/mango", cfg.Viewer.Executable)
	assert.Equal(t, []string{"killall", "{image}"}, cfg.Viewer.KillCommand)
	assert.Equal(t, "https://pacs.hospital.local", cfg.Backend.BaseURL)
	assert.True(t, cfg.Storage.S3.Enabled)
	assert.Equal(t, "eu-central-1", cfg.Storage.S3.Region)
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := loadFresh(t, path)
	require.Error(t, err)
}

func validConfig() Config {
	return Config{
		Server:    ServerConfig{Port: 8765},
		Staging:   StagingConfig{Root: "/tmp", Prefix: "series-"},
		Readiness: ReadinessConfig{MaxAttempts: 40, Delay: 200 * time.Millisecond},
		Viewer: ViewerConfig{
			Executable:  "/opt/Mango/Mango",
			KillCommand: []string{"pkill", "-x", "{image}"},
		},
		History: HistoryConfig{Enabled: true, Path: "seriesview.db"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "port zero", modify: func(c *Config) { c.Server.Port = 0 }, wantField: "server.port"},
		{name: "port too large", modify: func(c *Config) { c.Server.Port = 70000 }, wantField: "server.port"},
		{name: "negative concurrency", modify: func(c *Config) { c.Download.MaxConcurrency = -1 }, wantField: "download.max_concurrency"},
		{name: "no staging root", modify: func(c *Config) { c.Staging.Root = "" }, wantField: "staging.root"},
		{name: "no attempts", modify: func(c *Config) { c.Readiness.MaxAttempts = 0 }, wantField: "readiness.max_attempts"},
		{name: "negative delay", modify: func(c *Config) { c.Readiness.Delay = -time.Second }, wantField: "readiness.delay"},
		{name: "no executable", modify: func(c *Config) { c.Viewer.Executable = "" }, wantField: "viewer.executable"},
		{name: "no kill command", modify: func(c *Config) { c.Viewer.KillCommand = nil }, wantField: "viewer.kill_command"},
		{name: "s3 without region", modify: func(c *Config) { c.Storage.S3.Enabled = true }, wantField: "storage.s3.region"},
		{name: "azure without account", modify: func(c *Config) { c.Storage.Azure.Enabled = true }, wantField: "storage.azure"},
		{
			name: "azure with connection string",
			modify: func(c *Config) {
				c.Storage.Azure.Enabled = true
				c.Storage.Azure.ConnectionString = "UseDevelopmentStorage=true"
			},
		},
		{name: "history without path", modify: func(c *Config) { c.History.Path = "" }, wantField: "history.path"},
		{
			name: "disabled history without path",
			modify: func(c *Config) {
				c.History.Enabled = false
				c.History.Path = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}

			var cfgErr *domain.ConfigError
			require.True(t, errors.As(err, &cfgErr), "error %v is not a ConfigError", err)
			assert.Equal(t, tt.wantField, cfgErr.Field)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestDefaultsPerPlatform(t *testing.T) {
	assert.Equal(t, `C:\Program Files\Mango\Mango.exe`, DefaultViewerExecutable("windows"))
	assert.Equal(t, "/opt/Mango/Mango", DefaultViewerExecutable("linux"))
	assert.Equal(t, []string{"taskkill", "/IM", "{image}", "/F"}, DefaultKillCommand("windows"))
	assert.Equal(t, []string{"pkill", "-x", "{image}"}, DefaultKillCommand("darwin"))
}

func TestResolvedImageName(t *testing.T) {
	tests := []struct {
		name string
		cfg  ViewerConfig
		want string
	}{
		{name: "posix path", cfg: ViewerConfig{Executable: "/opt/Mango/Mango"}, want: "Mango"},
		{name: "windows path", cfg: ViewerConfig{Executable: `C:\Program Files\Mango\Mango.exe`}, want: "Mango.exe"},
		{name: "bare name", cfg: ViewerConfig{Executable: "mango"}, want: "mango"},
		{name: "explicit", cfg: ViewerConfig{Executable: "/opt/Mango/run.sh", ImageName: "Mango"}, want: "Mango"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ResolvedImageName())
		})
	}
}
