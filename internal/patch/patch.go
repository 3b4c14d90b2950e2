// Package patch applies declarative textual substitutions to a vendored
// third-party script.
//
// Pattern substitution against an upstream file is inherently fragile: when
// the upstream content drifts, a rule can silently stop matching. Every rule
// therefore declares both a match pattern and an applied-marker pattern, so
// each application ends in exactly one verifiable outcome: applied,
// already-applied, or pattern-not-found. A pattern miss is a reportable
// error, never silence.
package patch

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// BackupSuffix is appended to the target path for the pre-patch copy.
const BackupSuffix = ".bak"

// Static errors.
var (
	ErrNoRules         = errors.New("no patch rules configured")
	ErrPatternNotFound = errors.New("patch pattern not found")
	ErrRuleNameEmpty   = errors.New("patch rule name cannot be empty")
)

// Outcome classifies the result of one rule against one file.
type Outcome string

const (
	// OutcomeApplied means the pattern matched and the file was rewritten.
	OutcomeApplied Outcome = "applied"
	// OutcomeAlreadyApplied means the applied marker was found; nothing to do.
	OutcomeAlreadyApplied Outcome = "already-applied"
	// OutcomeNotFound means neither the pattern nor the marker matched.
	OutcomeNotFound Outcome = "pattern-not-found"
)

// Rule is one declarative substitution.
type Rule struct {
	// Name identifies the rule in reports and logs.
	Name string
	// Pattern is the regular expression the rule rewrites.
	Pattern string
	// Replacement is the expansion applied to every match. $1-style
	// references refer to Pattern capture groups.
	Replacement string
	// Applied is a regular expression that matches content the rule has
	// already transformed.
	Applied string
}

type compiledRule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
	applied     *regexp.Regexp
}

// RuleResult records the outcome of one rule.
type RuleResult struct {
	Name    string
	Outcome Outcome
	Matches int
}

// Report describes one Apply call.
type Report struct {
	Path       string
	BackupPath string
	Results    []RuleResult
	Changed    bool
}

// Applied reports whether every rule ended as applied or already-applied.
func (r *Report) Applied() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeNotFound {
			return false
		}
	}

	return true
}

// Missing returns the names of rules whose pattern was not found.
func (r *Report) Missing() []string {
	var missing []string

	for _, res := range r.Results {
		if res.Outcome == OutcomeNotFound {
			missing = append(missing, res.Name)
		}
	}

	return missing
}

// Patcher applies a fixed rule set to files.
type Patcher struct {
	rules []compiledRule
}

// New compiles the rule set. Every rule must carry a name, a valid pattern,
// and a valid applied marker.
func New(rules []Rule) (*Patcher, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	compiled := make([]compiledRule, 0, len(rules))

	for _, rule := range rules {
		if rule.Name == "" {
			return nil, ErrRuleNameEmpty
		}

		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid pattern: %w", rule.Name, err)
		}

		applied, err := regexp.Compile(rule.Applied)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid applied marker: %w", rule.Name, err)
		}

		compiled = append(compiled, compiledRule{
			name:        rule.Name,
			pattern:     pattern,
			replacement: rule.Replacement,
			applied:     applied,
		})
	}

	return &Patcher{rules: compiled}, nil
}

// AppliedAll reports whether every rule's applied marker is present in the
// file at path. It never modifies the file.
func (p *Patcher) AppliedAll(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read patch target: %w", err)
	}

	content := string(data)

	for _, rule := range p.rules {
		if !rule.applied.MatchString(content) {
			return false, nil
		}
	}

	return true, nil
}

// Apply runs every rule against the file at path.
//
// Rules that match are applied even when other rules miss; a miss surfaces
// as ErrPatternNotFound alongside the full report so the caller can decide
// whether a partial patch is acceptable. Before the first rewrite a backup
// of the original content is written next to the target; an existing backup
// is never overwritten, so it always holds the first pre-patch content.
func (p *Patcher) Apply(path string) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat patch target: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch target: %w", err)
	}

	report := &Report{
		Path:       path,
		BackupPath: path + BackupSuffix,
		Results:    nil,
		Changed:    false,
	}

	content := string(data)

	for _, rule := range p.rules {
		result := RuleResult{Name: rule.name, Outcome: OutcomeNotFound, Matches: 0}

		switch {
		case rule.applied.MatchString(content):
			result.Outcome = OutcomeAlreadyApplied
		case rule.pattern.MatchString(content):
			matches := len(rule.pattern.FindAllStringIndex(content, -1))
			content = rule.pattern.ReplaceAllString(content, rule.replacement)
			result.Outcome = OutcomeApplied
			result.Matches = matches
		}

		report.Results = append(report.Results, result)
	}

	report.Changed = content != string(data)

	if report.Changed {
		err = p.writeBack(path, report.BackupPath, data, []byte(content), info.Mode())
		if err != nil {
			return report, err
		}
	}

	if !report.Applied() {
		return report, fmt.Errorf(
			"%w: %s",
			ErrPatternNotFound,
			strings.Join(report.Missing(), ", "),
		)
	}

	return report, nil
}

// writeBack persists the patched content, creating the one-time backup first.
func (p *Patcher) writeBack(path, backupPath string, original, patched []byte, mode os.FileMode) error {
	_, err := os.Stat(backupPath)
	if os.IsNotExist(err) {
		writeErr := os.WriteFile(backupPath, original, mode)
		if writeErr != nil {
			return fmt.Errorf("failed to write backup %s: %w", backupPath, writeErr)
		}
	}

	err = os.WriteFile(path, patched, mode)
	if err != nil {
		return fmt.Errorf("failed to write patched file %s: %w", path, err)
	}

	return nil
}
