// Package rules holds the crawl rule set: which discovered URLs are excluded,
// which are pages to save, and which are saved only when linked from an
// already-included page.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// PatternPrefix marks a rule string as a regular expression instead of a literal URL.
const PatternPrefix = "regex:"

const (
	placeholderUsername = "{{username}}"
	placeholderHomePage = "{{home_page}}"
)

// ErrAlreadySubstituted is returned when placeholder substitution is attempted a second time.
var ErrAlreadySubstituted = errors.New("rule placeholders already substituted")

// Kind tags a rule as a literal URL or a pattern.
type Kind int

const (
	Literal Kind = iota
	Pattern
)

func (k Kind) String() string {
	if k == Pattern {
		return "pattern"
	}
	return "literal"
}

// Role is the part a rule plays during classification.
type Role int

const (
	RoleInclude Role = iota
	RoleExclude
	RoleLinkedOnly
)

func (r Role) String() string {
	switch r {
	case RoleExclude:
		return "exclude"
	case RoleLinkedOnly:
		return "include-only-if-linked"
	}
	return "include"
}

// Rule is a single literal or pattern rule.
type Rule struct {
	Kind Kind
	Role Role
	Raw  string // Value without the pattern prefix; may still hold placeholders

	re *regexp.Regexp
}

// Parse builds a rule from its configuration string.
func Parse(raw string, role Role) (Rule, error) {
	value, isPattern := strings.CutPrefix(raw, PatternPrefix)
	if !isPattern {
		return Rule{Kind: Literal, Role: role, Raw: raw}, nil
	}
	r := Rule{Kind: Pattern, Role: role, Raw: value}
	if err := r.compile(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (r *Rule) compile() error {
	re, err := regexp.Compile("(?i)" + r.Raw)
	if err != nil {
		return utils.WrapErrorf(utils.ErrConfigValidation, "invalid %s pattern '%s': %v", r.Role, r.Raw, err)
	}
	r.re = re
	return nil
}

// Matches reports whether u matches the rule: string equality for literals, a regex search for patterns.
func (r Rule) Matches(u string) bool {
	if r.Kind == Pattern {
		return r.re != nil && r.re.MatchString(u)
	}
	return r.Raw == u
}

// HasPlaceholders reports whether the rule still contains a template token.
func (r Rule) HasPlaceholders() bool {
	return strings.Contains(r.Raw, placeholderUsername) || strings.Contains(r.Raw, placeholderHomePage)
}

func (r Rule) String() string {
	if r.Kind == Pattern {
		return PatternPrefix + r.Raw
	}
	return r.Raw
}

// substitute returns a copy of the rule with placeholders replaced. Values are regex-quoted inside patterns.
func (r Rule) substitute(username, homePage string) (Rule, error) {
	if !r.HasPlaceholders() {
		return r, nil
	}
	quote := func(s string) string { return s }
	if r.Kind == Pattern {
		quote = regexp.QuoteMeta
	}

	raw := r.Raw
	if strings.Contains(raw, placeholderHomePage+"/") && strings.HasSuffix(homePage, "/") {
		raw = strings.ReplaceAll(raw, placeholderHomePage+"/", quote(homePage))
	}
	raw = strings.ReplaceAll(raw, placeholderHomePage, quote(homePage))
	raw = strings.ReplaceAll(raw, placeholderUsername, quote(username))

	out := Rule{Kind: r.Kind, Role: r.Role, Raw: raw}
	if out.Kind == Pattern {
		if err := out.compile(); err != nil {
			return Rule{}, err
		}
	}
	return out, nil
}

// Classification is the outcome of evaluating a URL against the set.
type Classification struct {
	Excluded            bool
	IncludedPage        bool // An inclusion rule matched
	LinkedOnlyCandidate bool // A linked-only rule matched while the current page is included
	Discoverable        bool // The match came from a pattern or linked-only rule and may be queued
}

// IsPage reports whether the URL is a crawl target rather than a resource.
func (c Classification) IsPage() bool {
	return !c.Excluded && (c.IncludedPage || c.LinkedOnlyCandidate)
}

// Set is the rule set of one run.
type Set struct {
	include    []Rule
	exclude    []Rule
	linkedOnly []Rule

	substituted bool
}

// NewSet parses the three rule lists. Empty strings are ignored.
func NewSet(include, exclude, linkedOnly []string) (*Set, error) {
	s := &Set{}
	var err error
	if s.include, err = parseAll(include, RoleInclude); err != nil {
		return nil, err
	}
	if s.exclude, err = parseAll(exclude, RoleExclude); err != nil {
		return nil, err
	}
	if s.linkedOnly, err = parseAll(linkedOnly, RoleLinkedOnly); err != nil {
		return nil, err
	}
	return s, nil
}

func parseAll(raws []string, role Role) ([]Rule, error) {
	out := make([]Rule, 0, len(raws))
	for i, raw := range raws {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		r, err := Parse(raw, role)
		if err != nil {
			return nil, fmt.Errorf("%s rule #%d: %w", role, i+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Substitute replaces {{username}} and {{home_page}} in every rule. It may be called once per set.
func (s *Set) Substitute(username, homePage string) error {
	if s.substituted {
		return ErrAlreadySubstituted
	}
	for _, list := range [][]Rule{s.include, s.exclude, s.linkedOnly} {
		for i := range list {
			r, err := list[i].substitute(username, homePage)
			if err != nil {
				return err
			}
			list[i] = r
		}
	}
	s.substituted = true
	return nil
}

// Substituted reports whether Substitute has run.
func (s *Set) Substituted() bool { return s.substituted }

// Empty reports whether the set has no inclusion rules, i.e. nothing can ever be discovered.
func (s *Set) Empty() bool { return len(s.include) == 0 }

// Classify evaluates u, found on currentPage. Exclusion wins over everything; linked-only rules are
// consulted only while currentPage itself matches an inclusion rule.
func (s *Set) Classify(u, currentPage string) Classification {
	for _, r := range s.exclude {
		if r.Matches(u) {
			return Classification{Excluded: true}
		}
	}

	var c Classification
	for _, r := range s.include {
		if r.Matches(u) {
			c.IncludedPage = true
			if r.Kind == Pattern {
				c.Discoverable = true
				break
			}
		}
	}
	if c.IncludedPage || !s.matchesInclude(currentPage) {
		return c
	}
	for _, r := range s.linkedOnly {
		if r.Matches(u) {
			c.LinkedOnlyCandidate = true
			c.Discoverable = true
			break
		}
	}
	return c
}

func (s *Set) matchesInclude(u string) bool {
	for _, r := range s.include {
		if r.Matches(u) {
			return true
		}
	}
	return false
}

// Literals returns the literal inclusion URLs, in configuration order, for seeding the frontier.
func (s *Set) Literals() []string {
	var out []string
	for _, r := range s.include {
		if r.Kind == Literal {
			out = append(out, r.Raw)
		}
	}
	return out
}

// Rules returns a copy of every rule, grouped include, exclude, linked-only.
func (s *Set) Rules() []Rule {
	out := make([]Rule, 0, len(s.include)+len(s.exclude)+len(s.linkedOnly))
	out = append(out, s.include...)
	out = append(out, s.exclude...)
	return append(out, s.linkedOnly...)
}
