package config

import "testing"

func newTestProfile(localRoot string) Profile {
	return Profile{
		LocalRoot:    localRoot,
		CloudRootID:  "root",
		CloudBaseURL: "https://api.example.com/drive/v3",
	}
}

func TestResolveProfileDefaultSingle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["work"] = newTestProfile("/home/user/work")

	rp, err := ResolveProfile(cfg, "")
	if err != nil {
		t.Fatalf("ResolveProfile: %v", err)
	}

	if rp.Name != "work" {
		t.Errorf("expected auto-selected profile %q, got %q", "work", rp.Name)
	}

	if rp.CloudRootID != "root" {
		t.Errorf("expected cloud_root_id %q, got %q", "root", rp.CloudRootID)
	}
}

func TestResolveProfileDefaultsToNamedDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["default"] = newTestProfile("/home/user/Documents")
	cfg.Profiles["work"] = newTestProfile("/home/user/work")

	rp, err := ResolveProfile(cfg, "")
	if err != nil {
		t.Fatalf("ResolveProfile: %v", err)
	}

	if rp.Name != "default" {
		t.Errorf("expected profile %q, got %q", "default", rp.Name)
	}
}

func TestResolveProfileAmbiguousWithoutDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["work"] = newTestProfile("/home/user/work")
	cfg.Profiles["home"] = newTestProfile("/home/user/home")

	if _, err := ResolveProfile(cfg, ""); err == nil {
		t.Fatal("expected error when multiple profiles exist and none is named default")
	}
}

func TestResolveProfileUnknownName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["work"] = newTestProfile("/home/user/work")

	if _, err := ResolveProfile(cfg, "nope"); err == nil {
		t.Fatal("expected error for unknown profile name")
	}
}

func TestResolveProfileSectionOverride(t *testing.T) {
	cfg := DefaultConfig()

	p := newTestProfile("/home/user/work")
	p.Filter = &FilterConfig{SkipDotfiles: true, IgnoreMarker: ".customignore"}
	cfg.Profiles["work"] = p

	rp, err := ResolveProfile(cfg, "work")
	if err != nil {
		t.Fatalf("ResolveProfile: %v", err)
	}

	if !rp.Filter.SkipDotfiles {
		t.Error("expected profile filter override to replace global filter")
	}

	if rp.Filter.IgnoreMarker != ".customignore" {
		t.Errorf("expected overridden ignore_marker, got %q", rp.Filter.IgnoreMarker)
	}
}

func TestResolveProfileExpandsTilde(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["work"] = newTestProfile("~/work")

	rp, err := ResolveProfile(cfg, "work")
	if err != nil {
		t.Fatalf("ResolveProfile: %v", err)
	}

	if rp.LocalRoot == "~/work" {
		t.Error("expected local_root tilde to be expanded")
	}
}

func TestResolveProfilesSkipsPausedByDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["work"] = newTestProfile("/home/user/work")

	paused := newTestProfile("/home/user/paused")
	paused.Paused = true
	cfg.Profiles["paused"] = paused

	resolved, err := ResolveProfiles(cfg, false)
	if err != nil {
		t.Fatalf("ResolveProfiles: %v", err)
	}

	if len(resolved) != 1 || resolved[0].Name != "work" {
		t.Fatalf("expected only the non-paused profile, got %+v", resolved)
	}

	all, err := ResolveProfiles(cfg, true)
	if err != nil {
		t.Fatalf("ResolveProfiles(includePaused): %v", err)
	}

	if len(all) != 2 {
		t.Fatalf("expected both profiles when includePaused is true, got %d", len(all))
	}
}

func TestProfileDBAndTokenPaths(t *testing.T) {
	if ProfileDBPath("work") == "" {
		t.Error("expected non-empty DB path")
	}

	if ProfileTokenPath("work") == "" {
		t.Error("expected non-empty token path")
	}
}
