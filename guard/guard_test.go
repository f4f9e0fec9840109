package guard

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyDecoyPaths(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name string
		path string
		want bool
	}{
		{name: "wp-admin", path: "/wp-admin", want: true},
		{name: "wp-admin trailing slash", path: "/wp-admin/", want: true},
		{name: "wp-admin uppercase", path: "/WP-ADMIN", want: true},
		{name: "env file", path: "/.env", want: true},
		{name: "git config", path: "/.git/config", want: true},
		{name: "phpmyadmin subpath", path: "/phpmyadmin/index.php", want: true},
		{name: "legitimate path", path: "/api/users", want: false},
		{name: "root", path: "/", want: false},
		{name: "similar but clean", path: "/wp-admin-docs", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.path, "", "Mozilla/5.0")
			if got.Honeypot != tt.want {
				t.Errorf("Classify(%q).Honeypot = %v, want %v", tt.path, got.Honeypot, tt.want)
			}
			if tt.want && got.MatchedPattern == "" {
				t.Error("expected MatchedPattern to be set for honeypot hit")
			}
		})
	}
}

func TestClassifyMaliciousURLs(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name  string
		path  string
		query string
		want  bool
	}{
		{name: "path traversal", path: "/files/../../etc/shadow", want: true},
		{name: "encoded traversal", path: "/files/%2e%2e%2fsecret", want: true},
		{name: "double encoded traversal", path: "/a/%252e%252e/b", want: true},
		{name: "null byte", path: "/download", query: "file=x%00.png", want: true},
		{name: "script tag in query", path: "/search", query: "q=<script>alert(1)</script>", want: true},
		{name: "encoded script tag", path: "/search", query: "q=%3Cscript%3E", want: true},
		{name: "union select", path: "/items", query: "id=1+union+select+password", want: true},
		{name: "quoted or injection", path: "/login", query: "user=' or '1'='1", want: true},
		{name: "template injection", path: "/render", query: "name={{config}}", want: true},
		{name: "clean query", path: "/search", query: "q=golang+tutorial", want: false},
		{name: "clean path", path: "/api/v1/users/42", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.path, tt.query, "Mozilla/5.0")
			if got.Blocked != tt.want {
				t.Errorf("Classify(%q, %q).Blocked = %v, want %v", tt.path, tt.query, got.Blocked, tt.want)
			}
		})
	}
}

func TestClassifyScannerAgents(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name      string
		userAgent string
		want      bool
	}{
		{name: "sqlmap", userAgent: "sqlmap/1.7.2#stable (https://sqlmap.org)", want: true},
		{name: "nikto", userAgent: "Mozilla/5.00 (Nikto/2.1.6)", want: true},
		{name: "gobuster", userAgent: "gobuster/3.6", want: true},
		{name: "missing user agent", userAgent: "", want: true},
		{name: "regular browser", userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", want: false},
		{name: "curl is not a scanner", userAgent: "curl/8.4.0", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify("/api/data", "", tt.userAgent)
			if got.Suspicious != tt.want {
				t.Errorf("Classify with UA %q: Suspicious = %v, want %v", tt.userAgent, got.Suspicious, tt.want)
			}
		})
	}
}

func TestClassifySeverityOrdering(t *testing.T) {
	c := NewClassifier()

	// A decoy path probed by a scanner must report as honeypot, not suspicious.
	got := c.Classify("/wp-login.php", "", "sqlmap/1.7")
	if got.Verdict() != VerdictHoneypot {
		t.Errorf("Verdict() = %v, want %v", got.Verdict(), VerdictHoneypot)
	}

	// Malicious content from a scanner reports as blocked.
	got = c.Classify("/files/../../etc/passwd-copy", "", "nikto/2.1")
	if got.Verdict() != VerdictBlocked {
		t.Errorf("Verdict() = %v, want %v", got.Verdict(), VerdictBlocked)
	}

	if VerdictHoneypot <= VerdictBlocked || VerdictBlocked <= VerdictSuspicious {
		t.Error("severity ordering must be honeypot > blocked > suspicious")
	}
}

func TestClassifierSkipsInvalidPatterns(t *testing.T) {
	c := NewClassifierWithSignatures(Signatures{
		URLPatterns: []string{`[invalid`, `\.\./`},
	})

	got := c.Classify("/a/../b", "", "Mozilla/5.0")
	if !got.Blocked {
		t.Error("valid pattern should still match after invalid one is skipped")
	}

	got = c.Classify("/clean", "", "Mozilla/5.0")
	if got.Blocked {
		t.Error("clean path must not match")
	}
}

func TestLoadSignatures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signatures.yaml")

	content := []byte("decoy_paths:\n  - /custom-trap\nscanner_agents:\n  - evilscanner\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	sigs, err := LoadSignatures(path)
	if err != nil {
		t.Fatalf("LoadSignatures() error = %v", err)
	}
	if len(sigs.DecoyPaths) != 1 || sigs.DecoyPaths[0] != "/custom-trap" {
		t.Errorf("DecoyPaths = %v, want [/custom-trap]", sigs.DecoyPaths)
	}
	// Omitted section falls back to defaults.
	if len(sigs.URLPatterns) == 0 {
		t.Error("URLPatterns should fall back to defaults")
	}

	c := NewClassifierWithSignatures(sigs)
	if got := c.Classify("/custom-trap", "", "Mozilla/5.0"); !got.Honeypot {
		t.Error("custom decoy path should classify as honeypot")
	}
	if got := c.Classify("/wp-admin", "", "Mozilla/5.0"); got.Honeypot {
		t.Error("default decoy paths should be replaced by custom set")
	}
}

func TestLoadSignaturesErrors(t *testing.T) {
	if _, err := LoadSignatures("/nonexistent/signatures.yaml"); err == nil {
		t.Error("expected error for missing file")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("decoy_paths: {not: a list"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSignatures(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestReloadSwapsAtomically(t *testing.T) {
	c := NewClassifier()
	if got := c.Classify("/wp-admin", "", "Mozilla/5.0"); !got.Honeypot {
		t.Fatal("default set should match /wp-admin")
	}

	c.Reload(Signatures{DecoyPaths: []string{"/new-trap"}})

	if got := c.Classify("/wp-admin", "", "Mozilla/5.0"); got.Honeypot {
		t.Error("old decoy path should no longer match after reload")
	}
	if got := c.Classify("/new-trap", "", "Mozilla/5.0"); !got.Honeypot {
		t.Error("new decoy path should match after reload")
	}
}
