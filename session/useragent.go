package session

import "strings"

// Fingerprint is the coarse client description parsed from a user agent
// string. It feeds anomaly comparison and user-facing session lists, so
// "Chrome on Windows (Desktop)" granularity is the goal, not full UA
// taxonomy.
type Fingerprint struct {
	Browser string
	Device  string
	OS      string
}

// ParseUserAgent extracts browser, device class, and operating system from
// a raw user agent string. Unknown or empty input yields "Unknown" fields
// rather than errors; anomaly detection treats Unknown as just another
// value.
func ParseUserAgent(ua string) Fingerprint {
	if strings.TrimSpace(ua) == "" {
		return Fingerprint{Browser: "Unknown", Device: "Unknown", OS: "Unknown"}
	}
	lower := strings.ToLower(ua)
	return Fingerprint{
		Browser: parseBrowser(lower),
		Device:  parseDevice(lower),
		OS:      parseOS(lower),
	}
}

// parseBrowser identifies the browser family. Order matters: Chrome's UA
// contains "safari", Edge's contains "chrome", Opera's contains both.
func parseBrowser(lower string) string {
	switch {
	case strings.Contains(lower, "edg/") || strings.Contains(lower, "edge/"):
		return "Edge"
	case strings.Contains(lower, "opr/") || strings.Contains(lower, "opera"):
		return "Opera"
	case strings.Contains(lower, "samsungbrowser"):
		return "Samsung Internet"
	case strings.Contains(lower, "firefox/"):
		return "Firefox"
	case strings.Contains(lower, "chrome/") || strings.Contains(lower, "crios/"):
		return "Chrome"
	case strings.Contains(lower, "safari/"):
		return "Safari"
	case strings.Contains(lower, "msie") || strings.Contains(lower, "trident/"):
		return "Internet Explorer"
	default:
		return "Unknown"
	}
}

func parseDevice(lower string) string {
	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		return "Tablet"
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone") || strings.Contains(lower, "android"):
		return "Mobile"
	default:
		return "Desktop"
	}
}

func parseOS(lower string) string {
	switch {
	case strings.Contains(lower, "windows"):
		return "Windows"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") || strings.Contains(lower, "ios"):
		return "iOS"
	case strings.Contains(lower, "mac os x") || strings.Contains(lower, "macintosh"):
		return "macOS"
	case strings.Contains(lower, "android"):
		return "Android"
	case strings.Contains(lower, "linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}
