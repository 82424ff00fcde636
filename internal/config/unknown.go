package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownGlobalKeys are the valid flat top-level keys in the config file.
// These correspond to fields in the embedded sub-config structs.
var knownGlobalKeys = map[string]bool{
	// Filter settings
	"skip_files": true, "skip_dirs": true, "skip_dotfiles": true,
	"skip_symlinks": true, "max_file_size": true, "sync_paths": true, "ignore_marker": true,
	// Transfer settings
	"parallel_downloads": true, "parallel_uploads": true, "parallel_checkers": true,
	"chunk_size": true, "bandwidth_limit": true, "bandwidth_schedule": true, "transfer_order": true,
	// Safety settings
	"big_delete_threshold": true, "big_delete_percentage": true, "big_delete_min_items": true,
	"min_free_space": true, "use_recycle_bin": true, "use_local_trash": true,
	"disable_download_validation": true, "disable_upload_validation": true,
	"sync_dir_permissions": true, "sync_file_permissions": true,
	// Sync settings
	"poll_interval": true, "fullscan_frequency": true, "websocket": true,
	"conflict_strategy": true, "conflict_reminder_interval": true, "dry_run": true,
	"verify_interval": true, "shutdown_timeout": true,
	// Logging settings
	"log_level": true, "log_file": true, "log_format": true, "log_retention_days": true,
	// Network settings
	"connect_timeout": true, "data_timeout": true, "user_agent": true, "force_http_11": true,
	// Device settings
	"cache_dir": true, "staging_dir": true, "change_batch_interval": true,
	"op_timeout": true, "hash_flavors": true,
	// Top-level table key, validated against its own key set.
	"profile": true,
}

// knownGlobalKeysList is the sorted slice form of knownGlobalKeys for
// Levenshtein matching. Sorted for deterministic suggestions when two
// candidates have the same edit distance.
var knownGlobalKeysList = sortedKeys(knownGlobalKeys)

// knownProfileKeys are the valid keys inside a [profile.<name>] section.
var knownProfileKeys = map[string]bool{
	"local_root": true, "cloud_root_id": true, "cloud_account_id": true, "cloud_base_url": true,
	"oauth_client_id": true, "oauth_client_secret": true, "oauth_auth_url": true,
	"oauth_token_url": true, "oauth_scopes": true,
	"alias": true, "paused": true, "state_dir": true,
	"filter": true, "transfers": true, "safety": true, "sync": true, "logging": true, "network": true,
	// Deprecated keys from the older OneDrive-specific profile layout.
	// Recognized so they parse without a fatal "unknown key" error; their
	// values are ignored and WarnDeprecatedKeys logs a replacement hint.
	"drive_id": true, "account_type": true, "application_id": true,
	"azure_ad_endpoint": true, "azure_tenant_id": true,
}

// knownProfileKeysList is the sorted slice form for Levenshtein matching.
var knownProfileKeysList = sortedKeys(knownProfileKeys)

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each unknown key. Keys under
// "profile.<name>." are checked against knownProfileKeys; everything else
// is checked against knownGlobalKeys.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		if err := buildKeyError(key.String()); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// buildKeyError creates a descriptive error for an unknown key, optionally
// suggesting the closest known key. Returns nil if the key is itself known
// or is a valid sub-field of a known key (e.g., bandwidth_schedule
// entries, or a recognized per-profile section override's own fields).
func buildKeyError(keyStr string) error {
	parts := strings.Split(keyStr, ".")

	if len(parts) >= 3 && parts[0] == "profile" {
		return buildProfileKeyError(parts[1], parts[2:])
	}

	fieldName := parts[0]

	if knownGlobalKeys[fieldName] {
		return nil // key is known, or its parent is and the sub-field is expected
	}

	suggestion := closestMatch(fieldName, knownGlobalKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown config key %q — did you mean %q?", fieldName, suggestion)
	}

	return fmt.Errorf("unknown config key %q", fieldName)
}

// buildProfileKeyError handles a "profile.<name>.<rest...>" undecoded key.
func buildProfileKeyError(profileName string, rest []string) error {
	fieldName := rest[0]

	if knownProfileKeys[fieldName] {
		return nil // key is known, or its parent section (e.g. "filter") is and the sub-field is expected
	}

	suggestion := closestMatch(fieldName, knownProfileKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown key %q in profile %q — did you mean %q?", fieldName, profileName, suggestion)
	}

	return fmt.Errorf("unknown key %q in profile %q", fieldName, profileName)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
