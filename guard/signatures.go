package guard

// Signatures is the raw, uncompiled signature set. It is the YAML file
// format accepted by Load and the input to NewClassifierWithSignatures.
type Signatures struct {
	// DecoyPaths are URL paths legitimate users never request. Entries
	// ending in "/" are treated as prefixes.
	DecoyPaths []string `yaml:"decoy_paths"`

	// URLPatterns are regular expressions matched against the lowercased
	// "path?query" string.
	URLPatterns []string `yaml:"url_patterns"`

	// ScannerAgents are lowercased substrings matched against the
	// user-agent string.
	ScannerAgents []string `yaml:"scanner_agents"`
}

// DefaultSignatures returns the built-in signature set. It covers the probe
// paths, traversal/injection syntax, and scanner identifiers most commonly
// seen in automated attack traffic.
func DefaultSignatures() Signatures {
	return Signatures{
		DecoyPaths: []string{
			"/wp-admin",
			"/wp-login.php",
			"/wp-content/",
			"/xmlrpc.php",
			"/phpmyadmin",
			"/phpmyadmin/",
			"/pma/",
			"/.env",
			"/.env.local",
			"/.env.production",
			"/.git/config",
			"/.git/head",
			"/.aws/credentials",
			"/.ssh/id_rsa",
			"/config.php",
			"/admin.php",
			"/shell.php",
			"/backup.sql",
			"/dump.sql",
			"/vendor/phpunit/",
			"/cgi-bin/",
			"/actuator/env",
			"/server-status",
			"/etc/passwd",
		},
		URLPatterns: []string{
			// Path traversal, plain and encoded.
			`\.\./`,
			`\.\.\\`,
			`%2e%2e%2f`,
			`%2e%2e/`,
			`\.\.%2f`,
			`%252e%252e`,
			// Null bytes.
			`%00`,
			`\x00`,
			// Script/markup injection.
			`<script`,
			`%3cscript`,
			`javascript:`,
			`onerror\s*=`,
			// SQL injection syntax.
			`union[+\s]+select`,
			`union%20select`,
			`;\s*drop\s+table`,
			`'\s*or\s+'1'\s*=\s*'1`,
			`"\s*or\s+"1"\s*=\s*"1`,
			`sleep\(\d+\)`,
			`benchmark\(`,
			// Template/expression injection.
			`\$\{.*\}`,
			`\{\{.*\}\}`,
		},
		ScannerAgents: []string{
			"sqlmap",
			"nikto",
			"nmap",
			"masscan",
			"zgrab",
			"nessus",
			"acunetix",
			"openvas",
			"dirbuster",
			"gobuster",
			"wpscan",
			"wfuzz",
			"ffuf",
			"metasploit",
			"hydra",
			"burpsuite",
			"netsparker",
			"qualys",
		},
	}
}
