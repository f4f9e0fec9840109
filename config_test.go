package edgegate

import (
	"strings"
	"testing"
	"time"

	"github.com/edgegate/edgegate/ratelimit"
)

func TestConfigValidate(t *testing.T) {
	production := func(mutate func(*Config)) Config {
		cfg := DefaultConfig()
		cfg.Environment = "production"
		cfg.IPHashSalt = "per-deployment-salt"
		if mutate != nil {
			mutate(&cfg)
		}
		return cfg
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "defaults are valid",
			cfg:  DefaultConfig(),
		},
		{
			name: "production with salt is valid",
			cfg:  production(nil),
		},
		{
			name: "unknown environment",
			cfg: func() Config {
				cfg := DefaultConfig()
				cfg.Environment = "staging"
				return cfg
			}(),
			wantErr: "invalid environment",
		},
		{
			name: "short master secret",
			cfg: func() Config {
				cfg := DefaultConfig()
				cfg.MasterSecret = "too-short"
				return cfg
			}(),
			wantErr: "master secret",
		},
		{
			name:    "production requires ip hash salt",
			cfg:     production(func(c *Config) { c.IPHashSalt = "" }),
			wantErr: "ip hash salt",
		},
		{
			name:    "proxy count without proxy trust",
			cfg:     production(func(c *Config) { c.TrustedProxyCount = 2 }),
			wantErr: "proxy",
		},
		{
			name: "negative proxy count",
			cfg: func() Config {
				cfg := DefaultConfig()
				cfg.TrustedProxyCount = -1
				return cfg
			}(),
			wantErr: "negative",
		},
		{
			name: "zero-limit route policy",
			cfg: func() Config {
				cfg := DefaultConfig()
				cfg.RoutePolicies = map[ratelimit.RouteClass]ratelimit.RoutePolicy{
					ratelimit.ClassAuth: {Limit: 0, Window: time.Minute},
				}
				return cfg
			}(),
			wantErr: "route policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigPoliciesFallBackToDefaults(t *testing.T) {
	cfg := DefaultConfig()
	got := cfg.policies()
	want := ratelimit.DefaultPolicies()
	for class, policy := range want {
		if got[class] != policy {
			t.Errorf("policy for %s = %+v, want %+v", class, got[class], policy)
		}
	}

	custom := map[ratelimit.RouteClass]ratelimit.RoutePolicy{
		ratelimit.ClassAuth: {Limit: 3, Window: time.Minute},
	}
	cfg.RoutePolicies = custom
	if cfg.policies()[ratelimit.ClassAuth].Limit != 3 {
		t.Error("custom route policies not honored")
	}
}
