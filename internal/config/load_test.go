package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_ParsesProfileSection(t *testing.T) {
	path := writeTestConfig(t, `
log_level = "debug"

[profile.work]
local_root = "/home/user/work"
cloud_base_url = "https://cloud.example.com/api/v1"
alias = "Work Laptop"
`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	require.Contains(t, cfg.Profiles, "work")
	assert.Equal(t, "/home/user/work", cfg.Profiles["work"].LocalRoot)
	assert.Equal(t, "Work Laptop", cfg.Profiles["work"].Alias)
}

func TestLoad_NestedSectionOverride(t *testing.T) {
	path := writeTestConfig(t, `
[profile.work]
local_root = "/home/user/work"
cloud_base_url = "https://cloud.example.com/api/v1"

[profile.work.filter]
skip_dotfiles = false
`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	require.NotNil(t, cfg.Profiles["work"].Filter)
	assert.False(t, cfg.Profiles["work"].Filter.SkipDotfiles)
}

func TestLoad_RejectsUnknownGlobalKey(t *testing.T) {
	path := writeTestConfig(t, `log_levl = "debug"`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoad_RejectsUnknownProfileKey(t *testing.T) {
	path := writeTestConfig(t, `
[profile.work]
local_root = "/home/user/work"
cloud_base_url = "https://cloud.example.com/api/v1"
remote_path = "/Documents"
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "work")
}

func TestLoad_ValidatesResultingConfig(t *testing.T) {
	path := writeTestConfig(t, `
[profile.a]
local_root = "/home/user/shared"
cloud_base_url = "https://cloud.example.com/api/v1"

[profile.b]
local_root = "/home/user/shared"
cloud_base_url = "https://cloud.example.com/api/v1"
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.toml")

	cfg, err := LoadOrDefault(path, testLogger(t))
	require.NoError(t, err)
	assert.Empty(t, cfg.Profiles)
}

func TestLoadOrDefault_ExistingFileIsParsed(t *testing.T) {
	path := writeTestConfig(t, `
[profile.work]
local_root = "/home/user/work"
cloud_base_url = "https://cloud.example.com/api/v1"
`)

	cfg, err := LoadOrDefault(path, testLogger(t))
	require.NoError(t, err)
	assert.Contains(t, cfg.Profiles, "work")
}

func TestResolveConfigPath_PrecedenceCLIOverEnvOverDefault(t *testing.T) {
	got := ResolveConfigPath(EnvOverrides{}, CLIOverrides{}, testLogger(t))
	assert.Equal(t, DefaultConfigPath(), got)

	got = ResolveConfigPath(EnvOverrides{ConfigPath: "/env/config.toml"}, CLIOverrides{}, testLogger(t))
	assert.Equal(t, "/env/config.toml", got)

	got = ResolveConfigPath(
		EnvOverrides{ConfigPath: "/env/config.toml"},
		CLIOverrides{ConfigPath: "/cli/config.toml"},
		testLogger(t),
	)
	assert.Equal(t, "/cli/config.toml", got)
}

func TestResolveConfig_AppliesCLIDryRunOverride(t *testing.T) {
	path := writeTestConfig(t, `
[profile.work]
local_root = "/home/user/work"
cloud_base_url = "https://cloud.example.com/api/v1"
`)

	dryRun := true
	resolved, cfg, err := ResolveConfig(
		EnvOverrides{},
		CLIOverrides{ConfigPath: path, Profile: "work", DryRun: &dryRun},
		testLogger(t),
	)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, resolved.Sync.DryRun)
	assert.Equal(t, "/home/user/work", resolved.LocalRoot)
}

func TestResolveConfig_EnvLocalRootOverride(t *testing.T) {
	path := writeTestConfig(t, `
[profile.work]
local_root = "/home/user/work"
cloud_base_url = "https://cloud.example.com/api/v1"
`)

	resolved, _, err := ResolveConfig(
		EnvOverrides{LocalRoot: "/mnt/override"},
		CLIOverrides{ConfigPath: path, Profile: "work"},
		testLogger(t),
	)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/override", resolved.LocalRoot)
}

func TestResolveConfig_UnknownProfileErrors(t *testing.T) {
	path := writeTestConfig(t, `
[profile.work]
local_root = "/home/user/work"
cloud_base_url = "https://cloud.example.com/api/v1"
`)

	_, _, err := ResolveConfig(
		EnvOverrides{},
		CLIOverrides{ConfigPath: path, Profile: "nonexistent"},
		testLogger(t),
	)
	require.Error(t, err)
}
