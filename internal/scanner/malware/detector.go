// Package malware matches artifact bytes against literal signatures and a
// fixed catalogue of heuristic suspicious-code patterns.
package malware

import (
	"bytes"
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/bastionhq/bastion/pkg/models"
)

// Heuristic patterns that flag suspicious code constructs. Binary content is
// never matched against these, only against literal signatures.
var suspiciousPatterns = map[string]struct {
	re   *regexp.Regexp
	desc string
}{
	"dynamic_eval":     {regexp.MustCompile(`\beval\s*\(`), "dynamic code evaluation"},
	"dynamic_function": {regexp.MustCompile(`new\s+Function\s*\(`), "dynamic function construction"},
	"document_write":   {regexp.MustCompile(`document\.(write|writeln)\s*\(`), "direct document write"},
	"shell_exec":       {regexp.MustCompile(`\bexec(Sync)?\s*\(`), "shell command execution"},
	"child_process":    {regexp.MustCompile(`\bspawn(Sync)?\s*\(|child_process`), "child process spawn"},
	"env_read":         {regexp.MustCompile(`process\.env|os\.environ|getenv\s*\(`), "environment variable read"},
	"base64_codec":     {regexp.MustCompile(`\b(atob|btoa|base64)\s*[.(]`), "base64 encode/decode call"},
}

type Result struct {
	Malware            []models.MalwareFinding
	SuspiciousPatterns []models.SuspiciousPatternFinding
}

type Detector struct {
	logger *logrus.Logger
}

func NewDetector(logger *logrus.Logger) *Detector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Detector{logger: logger}
}

// Detect matches content against the signature set and, for text content,
// the heuristic catalogue. Callers skip the detector entirely when malware
// scanning is disabled or the artifact carries no content.
func (d *Detector) Detect(content []byte, signatures []models.MalwareSignature) Result {
	var res Result

	for _, sig := range signatures {
		if sig.Signature == "" {
			continue
		}
		if bytes.Contains(content, []byte(sig.Signature)) {
			res.Malware = append(res.Malware, models.MalwareFinding{
				SignatureID: sig.ID,
				MalwareType: sig.Type,
				Severity:    sig.Severity,
				Description: sig.Description,
			})
		}
	}

	if isBinary(content) {
		// Opaque content: literal signatures only.
		return res
	}

	text := string(content)
	names := make([]string, 0, len(suspiciousPatterns))
	for name := range suspiciousPatterns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := suspiciousPatterns[name]
		if n := len(p.re.FindAllStringIndex(text, -1)); n > 0 {
			res.SuspiciousPatterns = append(res.SuspiciousPatterns, models.SuspiciousPatternFinding{
				Pattern:     name,
				Description: p.desc,
				Occurrences: n,
			})
		}
	}

	if len(res.Malware) > 0 || len(res.SuspiciousPatterns) > 0 {
		d.logger.Debugf("Malware detector: %d signature hits, %d suspicious patterns",
			len(res.Malware), len(res.SuspiciousPatterns))
	}
	return res
}

// isBinary treats content with NUL bytes or invalid UTF-8 as opaque.
func isBinary(content []byte) bool {
	if bytes.IndexByte(content, 0) >= 0 {
		return true
	}
	return !utf8.Valid(content)
}
