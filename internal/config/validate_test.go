package config

import "testing"

func TestValidateDefaultConfigPasses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["work"] = newTestProfile("/home/user/work")

	if err := Validate(cfg); err != nil {
		t.Fatalf("expected default config to validate, got: %v", err)
	}
}

func TestValidateRejectsMissingLocalRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["work"] = newTestProfile("")

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing local_root")
	}
}

func TestValidateRejectsMissingCloudBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	p := newTestProfile("/home/user/work")
	p.CloudBaseURL = ""
	cfg.Profiles["work"] = p

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing cloud_base_url")
	}
}

func TestValidateRejectsDuplicateLocalRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["a"] = newTestProfile("/home/user/shared")
	cfg.Profiles["b"] = newTestProfile("/home/user/shared")

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for duplicate local_root across profiles")
	}
}

func TestValidateRejectsBadChunkSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["work"] = newTestProfile("/home/user/work")
	cfg.Transfers.ChunkSize = "1MiB"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for chunk size below minimum")
	}
}

func TestValidateRejectsUnknownHashFlavor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles["work"] = newTestProfile("/home/user/work")
	cfg.Devices.HashFlavors = []string{"bogus"}

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown hash flavor")
	}
}

func TestValidateResolvedRejectsRelativeLocalRoot(t *testing.T) {
	rp := &ResolvedProfile{LocalRoot: "relative/path"}

	if err := ValidateResolved(rp); err == nil {
		t.Fatal("expected error for relative local_root")
	}
}

func TestValidateResolvedAcceptsAbsoluteLocalRoot(t *testing.T) {
	rp := &ResolvedProfile{LocalRoot: "/home/user/work"}

	if err := ValidateResolved(rp); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}
