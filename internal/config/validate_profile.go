package config

import (
	"fmt"
)

// validateProfiles checks all profile-level constraints.
func validateProfiles(profiles map[string]Profile) []error {
	if len(profiles) == 0 {
		return nil
	}

	var errs []error

	localRoots := make(map[string]string, len(profiles))

	for name := range profiles {
		p := profiles[name]
		errs = append(errs, validateSingleProfile(name, &p)...)
		errs = append(errs, checkDuplicateLocalRoot(name, &p, localRoots)...)
	}

	return errs
}

// validateSingleProfile validates one profile's fields.
func validateSingleProfile(name string, p *Profile) []error {
	var errs []error

	errs = append(errs, validateLocalRoot(name, p.LocalRoot)...)
	errs = append(errs, validateCloudBaseURL(name, p.CloudBaseURL)...)
	errs = append(errs, validateProfileOverrides(p)...)

	return errs
}

// validateLocalRoot checks that local_root is set.
func validateLocalRoot(profileName, localRoot string) []error {
	if localRoot == "" {
		return []error{fmt.Errorf("profile.%s.local_root: must not be empty", profileName)}
	}

	return nil
}

// validateCloudBaseURL checks that cloud_base_url is set. The other OAuth
// fields (client ID/secret, auth/token URLs, scopes) are not validated
// here — they are only required at login time, and the CLI's login
// command reports a clearer error when they're missing than a blanket
// config-load failure would.
func validateCloudBaseURL(profileName, baseURL string) []error {
	if baseURL == "" {
		return []error{fmt.Errorf("profile.%s.cloud_base_url: must not be empty", profileName)}
	}

	return nil
}

// checkDuplicateLocalRoot ensures no two profiles share the same expanded local_root.
func checkDuplicateLocalRoot(name string, p *Profile, seen map[string]string) []error {
	if p.LocalRoot == "" {
		return nil
	}

	expanded := expandTilde(p.LocalRoot)

	if other, exists := seen[expanded]; exists {
		return []error{fmt.Errorf(
			"profile.%s.local_root: %q conflicts with profile.%s (same directory)",
			name, p.LocalRoot, other)}
	}

	seen[expanded] = name

	return nil
}

// validateProfileOverrides validates per-profile section overrides.
func validateProfileOverrides(p *Profile) []error {
	var errs []error

	if p.Filter != nil {
		errs = append(errs, validateFilter(p.Filter)...)
	}

	if p.Transfers != nil {
		errs = append(errs, validateTransfers(p.Transfers)...)
	}

	if p.Safety != nil {
		errs = append(errs, validateSafety(p.Safety)...)
	}

	if p.Sync != nil {
		errs = append(errs, validateSync(p.Sync)...)
	}

	if p.Logging != nil {
		errs = append(errs, validateLogging(p.Logging)...)
	}

	if p.Network != nil {
		errs = append(errs, validateNetwork(p.Network)...)
	}

	return errs
}
