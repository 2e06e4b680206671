package plugins

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
)

// Finding is one static-analysis result.
type Finding struct {
	Type        string
	Severity    models.ViolationSeverity
	Description string
	File        string
	Line        int
	Context     string
}

// scannedExtensions are the bundle file types subject to analysis.
var scannedExtensions = map[string]bool{
	".js":   true,
	".ts":   true,
	".jsx":  true,
	".tsx":  true,
	".mjs":  true,
	".html": true,
}

type lineRule struct {
	violationType string
	severity      models.ViolationSeverity
	pattern       *regexp.Regexp
	description   string
}

var lineRules = []lineRule{
	{
		violationType: "eval_usage",
		severity:      models.SeverityCritical,
		pattern:       regexp.MustCompile(`\beval\s*\(|\bnew\s+Function\s*\(`),
		description:   "dynamic code evaluation primitive",
	},
	{
		violationType: "script_injection",
		severity:      models.SeverityHigh,
		pattern:       regexp.MustCompile(`(innerHTML|outerHTML)\s*[+]?=\s*[^;]*\+|document\.write(ln)?\s*\([^)]*\+|insertAdjacentHTML\s*\([^)]*\+`),
		description:   "string concatenation into a markup insertion API",
	},
	{
		violationType: "iframe_escape",
		severity:      models.SeverityHigh,
		pattern:       regexp.MustCompile(`\bwindow\.(parent|top)\b|\btop\.location\b|\bframeElement\b`),
		description:   "access to parent or top window",
	},
	{
		violationType: "credential_literal",
		severity:      models.SeverityCritical,
		pattern: regexp.MustCompile(`(?i)(api[_-]?key|secret|token|passwd|password)['"]?\s*[:=]\s*['"][A-Za-z0-9+/_\-]{20,}['"]` +
			`|AKIA[0-9A-Z]{16}` +
			`|ghp_[A-Za-z0-9]{36}`),
		description: "hardcoded credential-like literal",
	},
	{
		violationType: "unsafe_timer_string",
		severity:      models.SeverityMedium,
		pattern:       regexp.MustCompile(`\bset(Timeout|Interval)\s*\(\s*['"]`),
		description:   "deferred execution primitive invoked with a string argument",
	},
}

var (
	storageAccessPattern = regexp.MustCompile(`\b(localStorage|sessionStorage)\s*[.\[]`)
	outboundURLPattern   = regexp.MustCompile(`['"](https?://[^'"\s]+|wss?://[^'"\s]+)['"]`)
)

const (
	maxPermissions = 10

	// failingScore is the threshold below which an install is rejected.
	failingScore = 50
)

// Scanner runs static security analysis over a plugin bundle.
type Scanner struct{}

// NewScanner builds a scanner with the standard ruleset.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan walks the bundle and returns findings deduplicated by
// (violation_type, file, line). Manifest-level findings carry the manifest
// filename and line 0.
func (s *Scanner) Scan(dir string, manifest *Manifest) ([]Finding, error) {
	var findings []Finding
	seen := map[string]bool{}

	add := func(f Finding) {
		key := fmt.Sprintf("%s|%s|%d", f.Type, f.File, f.Line)
		if seen[key] {
			return
		}
		seen[key] = true
		findings = append(findings, f)
	}

	for _, f := range s.scanManifest(manifest) {
		add(f)
	}

	declaredOrigins := originHosts(manifest.AllowedOrigins)
	hasStoragePermission := hasPermission(manifest.Permissions, "storage:local")

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if !scannedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}

		fileFindings, scanErr := s.scanFile(path, rel, declaredOrigins, hasStoragePermission)
		if scanErr != nil {
			return scanErr
		}
		for _, f := range fileFindings {
			add(f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return findings, nil
}

func (s *Scanner) scanManifest(manifest *Manifest) []Finding {
	var findings []Finding

	if len(manifest.Permissions) > maxPermissions {
		findings = append(findings, Finding{
			Type:        "excess_permissions",
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("%d permissions requested, maximum is %d", len(manifest.Permissions), maxPermissions),
			File:        ManifestFilename,
		})
	}

	if hasPermission(manifest.Permissions, "network:http") && hasPermission(manifest.Permissions, "read:logs") {
		findings = append(findings, Finding{
			Type:        "dangerous_permission_combo",
			Severity:    models.SeverityHigh,
			Description: "network:http combined with read:logs allows log exfiltration",
			File:        ManifestFilename,
		})
	}

	return findings
}

func (s *Scanner) scanFile(path, rel string, declaredOrigins map[string]bool, hasStoragePermission bool) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var findings []Finding
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		context := strings.TrimSpace(line)
		if len(context) > 200 {
			context = context[:200]
		}

		for _, rule := range lineRules {
			if rule.pattern.MatchString(line) {
				findings = append(findings, Finding{
					Type:        rule.violationType,
					Severity:    rule.severity,
					Description: rule.description,
					File:        rel,
					Line:        lineNo,
					Context:     context,
				})
			}
		}

		if !hasStoragePermission && storageAccessPattern.MatchString(line) {
			findings = append(findings, Finding{
				Type:        "storage_access_undeclared",
				Severity:    models.SeverityMedium,
				Description: "local or session storage access without declared storage:local permission",
				File:        rel,
				Line:        lineNo,
				Context:     context,
			})
		}

		for _, match := range outboundURLPattern.FindAllStringSubmatch(line, -1) {
			host := hostOf(match[1])
			if host == "" || declaredOrigins[host] {
				continue
			}
			findings = append(findings, Finding{
				Type:        "network_exfil",
				Severity:    models.SeverityHigh,
				Description: fmt.Sprintf("outbound call to undeclared host %s", host),
				File:        rel,
				Line:        lineNo,
				Context:     context,
			})
		}
	}

	return findings, scanner.Err()
}

// HasCritical reports whether any finding is critical.
func HasCritical(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

// ScoreFindings computes the security score for a fresh scan, treating every
// finding as unresolved.
func ScoreFindings(findings []Finding) int {
	total := 0
	for _, f := range findings {
		total += models.SeverityWeight(f.Severity)
	}
	return clampScore(100 - total)
}

// ScoreViolations recomputes the score from persisted violations; resolved
// rows do not count.
func ScoreViolations(violations []models.PluginSecurityViolation) int {
	total := 0
	for _, v := range violations {
		if v.Resolved {
			continue
		}
		total += models.SeverityWeight(v.Severity)
	}
	return clampScore(100 - total)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func hasPermission(permissions []string, want string) bool {
	for _, p := range permissions {
		if p == want {
			return true
		}
	}
	return false
}

func originHosts(origins []string) map[string]bool {
	hosts := map[string]bool{}
	for _, o := range origins {
		if h := hostOf(o); h != "" {
			hosts[h] = true
		}
	}
	return hosts
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
