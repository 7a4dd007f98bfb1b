package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GOTRANSIT_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "America/Chicago", cfg.Timezone)
	assert.Equal(t, 500, cfg.StopTimesLimit)
	assert.Equal(t, 3, cfg.FetchRetries)
	assert.Equal(t, time.Second, cfg.FetchRetryDelay)
	assert.True(t, cfg.FuzzyStops)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "gotransit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9090
timezone: America/New_York
stop_times_limit: 1000
fetch_retry_delay: 250ms
fuzzy_stops: false
`), 0644))

	t.Setenv("GOTRANSIT_CONFIG", path)
	t.Setenv("GOTRANSIT_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port, "env overrides file")
	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, 1000, cfg.StopTimesLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.FetchRetryDelay)
	assert.False(t, cfg.FuzzyStops)
	assert.Equal(t, "./data", cfg.GTFSDir, "unset keys keep defaults")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("GOTRANSIT_CONFIG", "")
	// godotenv never overrides a variable that is already set. Setenv
	// registers the restore before the variable is cleared.
	t.Setenv("GOTRANSIT_DB_PATH", "")
	require.NoError(t, os.Unsetenv("GOTRANSIT_DB_PATH"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GOTRANSIT_DB_PATH=/tmp/from-dotenv.db\n"), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.DBPath)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"GOTRANSIT_PORT": "70000"}},
		{"non-numeric port", map[string]string{"GOTRANSIT_PORT": "abc"}},
		{"bad timezone", map[string]string{"GOTRANSIT_TIMEZONE": "Mars/Olympus"}},
		{"bad delay", map[string]string{"GOTRANSIT_FETCH_RETRY_DELAY": "soon"}},
		{"zero rate", map[string]string{"GOTRANSIT_RATE_LIMIT": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("GOTRANSIT_CONFIG", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_FeedSource(t *testing.T) {
	cfg := Default()
	cfg.GTFSURL = ""
	assert.Error(t, cfg.Validate(), "a feed URL is required without Postgres")

	cfg.PostgresDSN = "postgres://localhost/gtfs"
	assert.NoError(t, cfg.Validate())
}

func TestLocation(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "America/Chicago", cfg.Location().String())

	cfg.Timezone = "Nowhere/Special"
	assert.Equal(t, "CST", cfg.Location().String())
}
