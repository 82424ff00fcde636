package config

import (
	"strings"
	"testing"
)

func TestRenderEffectiveIncludesProfileAndSections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["work"] = newTestProfile("/home/user/work")

	rp, err := ResolveProfile(cfg, "work")
	if err != nil {
		t.Fatalf("ResolveProfile: %v", err)
	}

	var sb strings.Builder
	if err := RenderEffective(rp, &sb); err != nil {
		t.Fatalf("RenderEffective: %v", err)
	}

	out := sb.String()

	for _, want := range []string{
		`name            = "work"`,
		`local_root`,
		"[filter]",
		"[transfers]",
		"[safety]",
		"[sync]",
		"[logging]",
		"[network]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}
