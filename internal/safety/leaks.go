package safety

import "regexp"

// Leak is a secret-looking match in model-written text. Sample is truncated
// so it can be logged.
type Leak struct {
	Kind   string
	Sample string
}

var leakPatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`), "api key"},
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-./+=]{16,}`), "bearer token"},
	{regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), "google api key"},
	{regexp.MustCompile(`sk-(ant-)?[A-Za-z0-9_\-]{20,}`), "openai or anthropic key"},
	{regexp.MustCompile(`-----BEGIN\s+(RSA\s+|EC\s+)?PRIVATE\s+KEY-----`), "private key"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*"?[^\s"]{8,}"?`), "password"},
}

// FindLeaks reports secret-looking substrings, at most three per kind.
func FindLeaks(text string) []Leak {
	if text == "" {
		return nil
	}
	var leaks []Leak
	for _, p := range leakPatterns {
		for _, m := range p.re.FindAllString(text, 3) {
			if len(m) > 20 {
				m = m[:17] + "..."
			}
			leaks = append(leaks, Leak{Kind: p.kind, Sample: m})
		}
	}
	return leaks
}
