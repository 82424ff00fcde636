package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Default cloud root folder ID when none is specified: most Google-Drive-
// like APIs use "root" as the well-known alias for the account's top-level
// folder.
const defaultCloudRootID = "root"

// Default profile name when --profile is omitted.
const defaultProfileName = "default"

// Profile represents one local<->cloud device pairing within a TOML config
// file: a local filesystem root, a cloud account root, and the OAuth2
// registration used to authenticate against that account. Per-profile
// section overrides (e.g. [profile.work.filter]) completely replace the
// corresponding global section — individual fields are not merged.
type Profile struct {
	LocalRoot      string `toml:"local_root"`
	CloudRootID    string `toml:"cloud_root_id"`
	CloudAccountID string `toml:"cloud_account_id"`
	CloudBaseURL   string `toml:"cloud_base_url"`

	OAuthClientID     string   `toml:"oauth_client_id"`
	OAuthClientSecret string   `toml:"oauth_client_secret"`
	OAuthAuthURL      string   `toml:"oauth_auth_url"`
	OAuthTokenURL     string   `toml:"oauth_token_url"`
	OAuthScopes       []string `toml:"oauth_scopes"`

	Alias    string `toml:"alias"`
	Paused   bool   `toml:"paused"`
	StateDir string `toml:"state_dir"`

	// Per-profile section overrides (completely replace global sections).
	Filter    *FilterConfig    `toml:"filter,omitempty"`
	Transfers *TransfersConfig `toml:"transfers,omitempty"`
	Safety    *SafetyConfig    `toml:"safety,omitempty"`
	Sync      *SyncConfig      `toml:"sync,omitempty"`
	Logging   *LoggingConfig   `toml:"logging,omitempty"`
	Network   *NetworkConfig   `toml:"network,omitempty"`
}

// ResolvedProfile contains profile fields plus effective config sections
// after merging global defaults with per-profile overrides. This is the
// final product consumed by the CLI and sync engine.
type ResolvedProfile struct {
	Name string

	LocalRoot      string // absolute path after tilde expansion
	CloudRootID    string
	CloudAccountID string
	CloudBaseURL   string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthScopes       []string

	Alias    string
	Paused   bool
	StateDir string // override for state DB directory (empty = platform default)

	Filter    FilterConfig
	Transfers TransfersConfig
	Safety    SafetyConfig
	Sync      SyncConfig
	Logging   LoggingConfig
	Network   NetworkConfig
}

// StatePath returns the persistent index database path for this profile.
// When StateDir is set, the DB is placed inside that directory instead of
// the platform default data directory — used by tests for per-case
// isolation.
func (rp *ResolvedProfile) StatePath() string {
	if rp.StateDir != "" {
		return filepath.Join(rp.StateDir, "state_"+rp.Name+".db")
	}

	return ProfileDBPath(rp.Name)
}

// TokenPath returns the OAuth token file path for this profile.
func (rp *ResolvedProfile) TokenPath() string {
	return ProfileTokenPath(rp.Name)
}

// ResolveProfile merges global defaults with profile-specific overrides.
// If profileName is empty, the default profile is selected. Section-level
// override semantics are "replace, not merge" — if a profile defines
// [profile.work.filter], that entire FilterConfig replaces the global one.
func ResolveProfile(cfg *Config, profileName string) (*ResolvedProfile, error) {
	name, err := resolveProfileName(cfg, profileName)
	if err != nil {
		return nil, err
	}

	profile := cfg.Profiles[name]

	resolved := &ResolvedProfile{
		Name:              name,
		LocalRoot:         expandTilde(profile.LocalRoot),
		CloudRootID:       profile.CloudRootID,
		CloudAccountID:    profile.CloudAccountID,
		CloudBaseURL:      profile.CloudBaseURL,
		OAuthClientID:     profile.OAuthClientID,
		OAuthClientSecret: profile.OAuthClientSecret,
		OAuthAuthURL:      profile.OAuthAuthURL,
		OAuthTokenURL:     profile.OAuthTokenURL,
		OAuthScopes:       profile.OAuthScopes,
		Alias:             profile.Alias,
		Paused:            profile.Paused,
		StateDir:          profile.StateDir,
	}

	if resolved.CloudRootID == "" {
		resolved.CloudRootID = defaultCloudRootID
	}

	resolveProfileSections(resolved, &profile, cfg)

	return resolved, nil
}

// resolveProfileSections fills effective config sections on the resolved profile.
func resolveProfileSections(resolved *ResolvedProfile, profile *Profile, cfg *Config) {
	resolved.Filter = resolveSection(profile.Filter, cfg.Filter)
	resolved.Transfers = resolveSection(profile.Transfers, cfg.Transfers)
	resolved.Safety = resolveSection(profile.Safety, cfg.Safety)
	resolved.Sync = resolveSection(profile.Sync, cfg.Sync)
	resolved.Logging = resolveSection(profile.Logging, cfg.Logging)
	resolved.Network = resolveSection(profile.Network, cfg.Network)
}

// resolveSection returns the profile override if present, otherwise the global value.
func resolveSection[T any](profileOverride *T, global T) T {
	if profileOverride != nil {
		return *profileOverride
	}

	return global
}

// resolveProfileName determines which profile to use.
func resolveProfileName(cfg *Config, profileName string) (string, error) {
	if len(cfg.Profiles) == 0 {
		return "", fmt.Errorf("no profiles defined in config")
	}

	if profileName != "" {
		return lookupExplicitProfile(cfg, profileName)
	}

	return lookupDefaultProfile(cfg)
}

// lookupExplicitProfile validates that the named profile exists.
func lookupExplicitProfile(cfg *Config, name string) (string, error) {
	if _, ok := cfg.Profiles[name]; !ok {
		return "", fmt.Errorf("profile %q not found in config", name)
	}

	return name, nil
}

// lookupDefaultProfile finds the default profile when no name is given.
func lookupDefaultProfile(cfg *Config) (string, error) {
	if _, ok := cfg.Profiles[defaultProfileName]; ok {
		return defaultProfileName, nil
	}

	if len(cfg.Profiles) == 1 {
		for name := range cfg.Profiles {
			return name, nil
		}
	}

	return "", fmt.Errorf(
		"multiple profiles defined but none named %q; use --profile to select one",
		defaultProfileName)
}

// ResolveProfiles resolves every profile in cfg, applying global defaults
// and per-profile overrides. When includePaused is false, paused profiles
// are excluded. Results are sorted by name for deterministic ordering.
func ResolveProfiles(cfg *Config, includePaused bool) ([]*ResolvedProfile, error) {
	names := make([]string, 0, len(cfg.Profiles))
	for name := range cfg.Profiles {
		names = append(names, name)
	}

	sort.Strings(names)

	resolved := make([]*ResolvedProfile, 0, len(names))

	for _, name := range names {
		rp, err := ResolveProfile(cfg, name)
		if err != nil {
			return nil, err
		}

		if !includePaused && rp.Paused {
			continue
		}

		resolved = append(resolved, rp)
	}

	return resolved, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

// ProfileDBPath returns the persistent index database path for a profile.
// Format: {dataDir}/state/{profile}.db
func ProfileDBPath(profileName string) string {
	dataDir := DefaultDataDir()
	if dataDir == "" {
		return ""
	}

	return filepath.Join(dataDir, "state", profileName+".db")
}

// ProfileTokenPath returns the OAuth token file path for a profile.
// Format: {configDir}/tokens/{profile}.json
func ProfileTokenPath(profileName string) string {
	configDir := DefaultConfigDir()
	if configDir == "" {
		return ""
	}

	return filepath.Join(configDir, "tokens", profileName+".json")
}
