package tlsconfig

import (
	"crypto/tls"
	"testing"
)

func TestApplyVersionProfileLegacy(t *testing.T) {
	cfg := &tls.Config{}
	ApplyVersionProfile(cfg, ProfileLegacy)

	if cfg.MinVersion != ProfileLegacy.Min {
		t.Errorf("MinVersion = 0x%x, want 0x%x", cfg.MinVersion, ProfileLegacy.Min)
	}
	if cfg.MaxVersion != ProfileLegacy.Max {
		t.Errorf("MaxVersion = 0x%x, want 0x%x", cfg.MaxVersion, ProfileLegacy.Max)
	}
}

func TestApplyVersionProfileModern(t *testing.T) {
	cfg := &tls.Config{}
	ApplyVersionProfile(cfg, ProfileModern)

	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion = 0x%x, want TLS 1.3", cfg.MinVersion)
	}
}

func TestGetVersionName(t *testing.T) {
	cases := map[uint16]string{
		tls.VersionTLS13: "TLS 1.3",
		tls.VersionTLS12: "TLS 1.2",
	}
	for version, want := range cases {
		if got := GetVersionName(version); got != want {
			t.Errorf("GetVersionName(0x%x) = %q, want %q", version, got, want)
		}
	}
}

func TestGetCipherSuiteNameUnknown(t *testing.T) {
	if got := GetCipherSuiteName(0xFFFF); got == "" {
		t.Error("GetCipherSuiteName(unknown) returned empty string, want a fallback label")
	}
}

func TestIsVersionDeprecated(t *testing.T) {
	if !IsVersionDeprecated(tls.VersionSSL30) {
		t.Error("SSLv3 should be deprecated")
	}
	if IsVersionDeprecated(tls.VersionTLS13) {
		t.Error("TLS 1.3 should not be deprecated")
	}
}

func TestProfileByName(t *testing.T) {
	cases := map[string]VersionProfile{
		"legacy":     ProfileLegacy,
		"Compatible": ProfileCompatible,
		"SECURE":     ProfileSecure,
		"modern":     ProfileModern,
	}
	for name, want := range cases {
		got, ok := ProfileByName(name)
		if !ok {
			t.Fatalf("ProfileByName(%q) ok = false, want true", name)
		}
		if got != want {
			t.Errorf("ProfileByName(%q) = %+v, want %+v", name, got, want)
		}
	}

	if _, ok := ProfileByName("nonsense"); ok {
		t.Error("ProfileByName(nonsense) ok = true, want false")
	}
}

func TestApplyCipherSuites(t *testing.T) {
	cfg := &tls.Config{}
	ApplyCipherSuites(cfg, VersionTLS13)
	if cfg.CipherSuites != nil {
		t.Errorf("CipherSuites for TLS 1.3 floor = %v, want nil (implicit suites)", cfg.CipherSuites)
	}

	ApplyCipherSuites(cfg, VersionTLS12)
	if len(cfg.CipherSuites) == 0 {
		t.Error("CipherSuites for TLS 1.2 floor is empty")
	}
}
