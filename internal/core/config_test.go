package core

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/clusterenv/internal/netutil"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	validConfig := func() Config {
		return Config{
			Launcher:     LauncherFunc(func(InstanceSpec) (Instance, error) { return nil, nil }),
			Ports:        netutil.NewPortRegistry("", "", nil),
			BaseDataDir:  "/tmp/clusterenv",
			StartTimeout: time.Minute,
			StopTimeout:  10 * time.Second,
		}
	}

	t.Run("valid config returns nil", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	tests := map[string]struct {
		modify       func(*Config)
		wantContains string
	}{
		"nil launcher": {
			modify:       func(c *Config) { c.Launcher = nil },
			wantContains: "launcher",
		},
		"nil port registry": {
			modify:       func(c *Config) { c.Ports = nil },
			wantContains: "port registry",
		},
		"empty base data dir": {
			modify:       func(c *Config) { c.BaseDataDir = "" },
			wantContains: "base data directory",
		},
		"zero start timeout": {
			modify:       func(c *Config) { c.StartTimeout = 0 },
			wantContains: "start timeout",
		},
		"negative stop timeout": {
			modify:       func(c *Config) { c.StopTimeout = -time.Second },
			wantContains: "stop timeout",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.modify(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantContains) {
				t.Errorf("error %q should contain %q", err.Error(), tc.wantContains)
			}
		})
	}

	t.Run("multiple errors joined", func(t *testing.T) {
		t.Parallel()

		err := Config{}.Validate()
		if err == nil {
			t.Fatal("expected error for zero-value config")
		}
		for _, part := range []string{"launcher", "port registry", "base data directory", "start timeout", "stop timeout"} {
			if !strings.Contains(err.Error(), part) {
				t.Errorf("error %q should contain %q", err.Error(), part)
			}
		}
	})
}

// TestConfigFieldCount detects fields added to Config without a matching
// option in the root package.
//
// If this test fails, add a WithXxx option in options.go and update
// expectedFields.
func TestConfigFieldCount(t *testing.T) {
	t.Parallel()
	const expectedFields = 5

	actual := reflect.TypeFor[Config]().NumField()
	if actual != expectedFields {
		t.Errorf("Config has %d fields, expected %d; "+
			"if you added a field, also add a WithXxx option in the root package options.go",
			actual, expectedFields)
	}
}
