package config

import (
	"os"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Tasks.DefaultTimeout != 15*time.Second {
		t.Errorf("expected 15s default timeout, got %v", cfg.Tasks.DefaultTimeout)
	}
	if cfg.Tasks.ListLimit != 500 {
		t.Errorf("expected list limit 500, got %d", cfg.Tasks.ListLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	os.Setenv("EXECD_TEST_TOKEN", "sekrit")
	defer os.Unsetenv("EXECD_TEST_TOKEN")

	cfg, err := Parse([]byte(`
internal:
  token: ${EXECD_TEST_TOKEN}
database:
  path: ":memory:"
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Internal.Token != "sekrit" {
		t.Errorf("expected env-expanded token, got %q", cfg.Internal.Token)
	}
	if cfg.Database.Path != ":memory:" {
		t.Errorf("expected :memory: path, got %q", cfg.Database.Path)
	}
	// Defaults survive partial files.
	if cfg.Tasks.ListLimit != 500 {
		t.Errorf("expected default list limit, got %d", cfg.Tasks.ListLimit)
	}
}

func TestValidate_Runtimes(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name: "subprocess without command",
			mutate: func(c *Config) {
				c.Runtimes = []RuntimeConfig{{ID: "local", Type: RuntimeSubprocess}}
			},
			wantErr: true,
		},
		{
			name: "remote without url",
			mutate: func(c *Config) {
				c.Runtimes = []RuntimeConfig{{ID: "isolate", Type: RuntimeRemote}}
				c.Internal.Token = "t"
			},
			wantErr: true,
		},
		{
			name: "remote without internal token",
			mutate: func(c *Config) {
				c.Runtimes = []RuntimeConfig{{ID: "isolate", Type: RuntimeRemote, URL: "http://host"}}
			},
			wantErr: true,
		},
		{
			name: "duplicate runtime ids",
			mutate: func(c *Config) {
				c.Runtimes = []RuntimeConfig{
					{ID: "local", Type: RuntimeSubprocess, Command: []string{"sh"}},
					{ID: "local", Type: RuntimeSubprocess, Command: []string{"sh"}},
				}
			},
			wantErr: true,
		},
		{
			name: "valid catalog",
			mutate: func(c *Config) {
				c.Internal.Token = "t"
				c.Runtimes = []RuntimeConfig{
					{ID: "local", Type: RuntimeSubprocess, Command: []string{"node"}},
					{ID: "isolate", Type: RuntimeRemote, URL: "http://host"},
				}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}
