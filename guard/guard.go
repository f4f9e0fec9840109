// Package guard provides stateless request classification against threat
// signature sets: decoy (honeypot) paths, malicious URL content, and known
// scanner user-agent signatures.
//
// Classification runs synchronously on the request path and must stay cheap:
// the compiled signature set is swapped atomically, so Classify never takes
// a lock and never allocates beyond the returned Classification.
package guard

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// Verdict identifies which signature family matched, ordered by severity.
// Honeypot matches outrank malicious-URL matches, which outrank
// suspicious-identity matches.
type Verdict int

const (
	// VerdictClean indicates no signature matched.
	VerdictClean Verdict = iota

	// VerdictSuspicious indicates a scanner user-agent signature matched,
	// or the user-agent string was missing entirely.
	VerdictSuspicious

	// VerdictBlocked indicates malicious URL content matched (traversal,
	// injection syntax, null bytes). The request must be hard-rejected.
	VerdictBlocked

	// VerdictHoneypot indicates a decoy path was probed. The response must
	// look like an ordinary not-found so the attacker is not tipped off.
	VerdictHoneypot
)

// String returns a human-readable name for the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictSuspicious:
		return "suspicious"
	case VerdictBlocked:
		return "blocked"
	case VerdictHoneypot:
		return "honeypot"
	default:
		return "unknown"
	}
}

// Classification is the result of testing one request against the signature set.
type Classification struct {
	Honeypot       bool
	Blocked        bool
	Suspicious     bool
	MatchedPattern string
}

// Verdict returns the highest-severity verdict present in the classification.
func (c Classification) Verdict() Verdict {
	switch {
	case c.Honeypot:
		return VerdictHoneypot
	case c.Blocked:
		return VerdictBlocked
	case c.Suspicious:
		return VerdictSuspicious
	default:
		return VerdictClean
	}
}

// compiledSet holds the pre-compiled signature families. It is immutable
// after construction so it can be shared without locking.
type compiledSet struct {
	decoyPaths    map[string]struct{}
	decoyPrefixes []string
	urlPatterns   []*regexp.Regexp
	urlPatternSrc []string
	scannerAgents []string
}

// Classifier tests requests against a hot-swappable signature set.
type Classifier struct {
	set atomic.Pointer[compiledSet]
}

// NewClassifier creates a classifier using the built-in default signatures.
func NewClassifier() *Classifier {
	c := &Classifier{}
	c.set.Store(compile(DefaultSignatures()))
	return c
}

// NewClassifierWithSignatures creates a classifier from a custom signature set.
// Invalid URL regular expressions are skipped: a malformed signature must
// never disable classification, it only narrows it.
func NewClassifierWithSignatures(sigs Signatures) *Classifier {
	c := &Classifier{}
	c.set.Store(compile(sigs))
	return c
}

// Reload atomically replaces the active signature set. In-flight
// classifications finish against the set they started with.
func (c *Classifier) Reload(sigs Signatures) {
	c.set.Store(compile(sigs))
}

// Classify tests a request's path, raw query string, and user-agent string
// against the three signature families. Decoy-path matches take priority,
// then malicious URL content, then scanner signatures. An empty user-agent
// is itself treated as suspicious.
//
// Malformed input is treated as non-matching: classification fails safe
// toward "clean" on anything it cannot interpret, and only confirmed
// matches block.
func (c *Classifier) Classify(path, rawQuery, userAgent string) Classification {
	set := c.set.Load()

	normalized := strings.ToLower(path)
	if p, ok := matchDecoy(set, normalized); ok {
		return Classification{Honeypot: true, MatchedPattern: p}
	}

	target := normalized
	if rawQuery != "" {
		target = normalized + "?" + strings.ToLower(rawQuery)
	}
	for i, re := range set.urlPatterns {
		if re.MatchString(target) {
			return Classification{Blocked: true, MatchedPattern: set.urlPatternSrc[i]}
		}
	}

	if userAgent == "" {
		return Classification{Suspicious: true, MatchedPattern: "missing-user-agent"}
	}
	ua := strings.ToLower(userAgent)
	for _, sig := range set.scannerAgents {
		if strings.Contains(ua, sig) {
			return Classification{Suspicious: true, MatchedPattern: sig}
		}
	}

	return Classification{}
}

func matchDecoy(set *compiledSet, path string) (string, bool) {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	if _, ok := set.decoyPaths[trimmed]; ok {
		return trimmed, true
	}
	for _, prefix := range set.decoyPrefixes {
		if strings.HasPrefix(path, prefix) {
			return prefix, true
		}
	}
	return "", false
}

func compile(sigs Signatures) *compiledSet {
	set := &compiledSet{
		decoyPaths: make(map[string]struct{}, len(sigs.DecoyPaths)),
	}
	for _, p := range sigs.DecoyPaths {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/") {
			set.decoyPrefixes = append(set.decoyPrefixes, p)
			continue
		}
		set.decoyPaths[p] = struct{}{}
	}
	for _, src := range sigs.URLPatterns {
		re, err := regexp.Compile(src)
		if err != nil {
			// A broken pattern narrows detection; it never breaks the gateway.
			continue
		}
		set.urlPatterns = append(set.urlPatterns, re)
		set.urlPatternSrc = append(set.urlPatternSrc, src)
	}
	for _, sig := range sigs.ScannerAgents {
		sig = strings.ToLower(strings.TrimSpace(sig))
		if sig != "" {
			set.scannerAgents = append(set.scannerAgents, sig)
		}
	}
	return set
}
