package guardrails

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/mwiater/ragguard/internal/appconfig"
)

// Profiles select the output safety rules.
const (
	ProfileGeneral = "general"
	ProfileMedical = "medical"
)

// Policy is the complete guardrail configuration. It starts from the
// application config and may be extended by a YAML policy file.
type Policy struct {
	Enabled           bool                  `yaml:"enabled" json:"enabled"`
	StrictMode        bool                  `yaml:"strictMode" json:"strictMode"`
	MaxInputLength    int                   `yaml:"maxInputLength" json:"maxInputLength"`
	MinKeywordMatches int                   `yaml:"minKeywordMatches" json:"minKeywordMatches"`
	Profile           string                `yaml:"profile" json:"profile"`
	ContentFilters    map[Category]bool     `yaml:"contentFilters" json:"contentFilters"`
	ExtraPatterns     map[Category][]string `yaml:"extraPatterns,omitempty" json:"extraPatterns,omitempty"`
	AllowedTopics     []string              `yaml:"allowedTopics,omitempty" json:"allowedTopics,omitempty"`
	DomainKeywords    []string              `yaml:"domainKeywords,omitempty" json:"domainKeywords,omitempty"`
	UnsafeOutput      []string              `yaml:"unsafeOutput,omitempty" json:"unsafeOutput,omitempty"`
}

var defaultPatterns = map[Category][]string{
	CategoryPromptInjection: {
		`ignore\s+previous\s+instructions`,
		`forget\s+your\s+role`,
		`act\s+as\s+if\s+you\s+are`,
		`pretend\s+to\s+be`,
		`roleplay\s+as`,
		`you\s+are\s+now`,
		`from\s+now\s+on`,
		`new\s+instructions`,
		`system\s+prompt`,
		`assistant\s+mode`,
	},
	CategoryCodeInjection: {
		`<script.*?>.*?</script>`,
		`javascript:`,
		`eval\s*\(`,
		`exec\s*\(`,
		`system\s*\(`,
		`shell_exec\s*\(`,
		`passthru\s*\(`,
		`DROP\s+TABLE`,
		`DELETE\s+FROM`,
		`INSERT\s+INTO`,
		`UPDATE\s+.*\s+SET`,
		`rm\s+-rf`,
		`sudo\s+`,
		`chmod\s+`,
		`wget\s+`,
		`curl\s+.*\|\s*sh`,
	},
	CategoryPersonalData: {
		`\b\d{3}-\d{2}-\d{4}\b`,
		`\b\d{4}\s*\d{4}\s*\d{4}\s*\d{4}\b`,
		`\b\d{3}-\d{3}-\d{4}\b`,
		`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
	},
	CategoryProfanity: {
		`\b(damn|shit|fuck|bitch|asshole|bastard)`,
	},
}

var defaultUnsafeOutput = []string{
	`\bi\s+diagnose\s+you\s+with\b`,
	`\byou\s+have\s+\w+\s+disease\b`,
	`\btake\s+this\s+medication\s+immediately\b`,
	`\bdon'?t\s+see\s+a\s+doctor\b`,
	`\bavoid\s+medical\s+treatment\b`,
	`\byou\s+definitely\s+have\b`,
	`\byou\s+are\s+suffering\s+from\b`,
	`\bthis\s+confirms\s+you\s+have\b`,
	`\byou\s+need\s+to\s+take\b`,
	`\bstop\s+taking\s+your\s+medication\b`,
}

var defaultAllowedTopics = []string{
	"api troubleshooting",
	"authentication",
	"bearer token",
	"api endpoints",
	"error codes",
	"rate limiting",
	"configuration",
	"timeout",
	"payload",
	"headers",
	"json",
	"rest api",
	"http status",
	"documentation",
}

var defaultDomainKeywords = []string{
	"api", "endpoint", "error", "code", "status", "response",
	"request", "header", "payload", "json", "authentication",
	"authorization", "token", "troubleshoot", "debug", "fix",
	"issue", "problem", "help", "how", "what", "why", "when",
}

// DefaultPolicy returns the built-in policy with every filter enabled.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:           true,
		MaxInputLength:    2000,
		MinKeywordMatches: 2,
		Profile:           ProfileGeneral,
		ContentFilters: map[Category]bool{
			CategoryPromptInjection: true,
			CategoryCodeInjection:   true,
			CategoryPersonalData:    true,
			CategoryProfanity:       true,
		},
	}
}

// PolicyFromConfig builds a Policy from the guardrails config section and,
// when PolicyPath is set, merges the YAML policy file on top of it.
func PolicyFromConfig(cfg appconfig.Guardrails) (Policy, error) {
	p := Policy{
		Enabled:           cfg.Enabled,
		StrictMode:        cfg.StrictMode,
		MaxInputLength:    cfg.MaxInputLength,
		MinKeywordMatches: cfg.MinKeywordMatches,
		Profile:           cfg.Profile,
		ContentFilters: map[Category]bool{
			CategoryPromptInjection: cfg.ContentFilters.PromptInjection,
			CategoryCodeInjection:   cfg.ContentFilters.CodeInjection,
			CategoryPersonalData:    cfg.ContentFilters.PersonalData,
			CategoryProfanity:       cfg.ContentFilters.Profanity,
		},
	}
	if strings.TrimSpace(cfg.PolicyPath) == "" {
		return p, nil
	}
	file, err := LoadPolicyFile(cfg.PolicyPath)
	if err != nil {
		return Policy{}, err
	}
	return p.Merge(file), nil
}

// policyFile mirrors Policy with pointer fields so that unset keys in YAML
// leave the base policy untouched.
type policyFile struct {
	Enabled           *bool                 `yaml:"enabled"`
	StrictMode        *bool                 `yaml:"strictMode"`
	MaxInputLength    *int                  `yaml:"maxInputLength"`
	MinKeywordMatches *int                  `yaml:"minKeywordMatches"`
	Profile           *string               `yaml:"profile"`
	ContentFilters    map[Category]bool     `yaml:"contentFilters"`
	ExtraPatterns     map[Category][]string `yaml:"extraPatterns"`
	AllowedTopics     []string              `yaml:"allowedTopics"`
	DomainKeywords    []string              `yaml:"domainKeywords"`
	UnsafeOutput      []string              `yaml:"unsafeOutput"`
}

// PolicyOverlay is a parsed policy file.
type PolicyOverlay struct {
	file policyFile
}

// LoadPolicyFile reads a YAML policy file.
func LoadPolicyFile(path string) (PolicyOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyOverlay{}, &appconfig.ConfigurationError{Field: "guardrails.policyPath", Reason: err.Error()}
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes YAML policy bytes.
func ParsePolicy(data []byte) (PolicyOverlay, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return PolicyOverlay{}, &appconfig.ConfigurationError{Field: "guardrails.policyPath", Reason: fmt.Sprintf("parse policy: %v", err)}
	}
	return PolicyOverlay{file: file}, nil
}

// Merge returns a copy of p with every key set in overlay applied. A list in
// the overlay replaces the list it names, so applying the same overlay twice
// yields the same policy.
func (p Policy) Merge(overlay PolicyOverlay) Policy {
	f := overlay.file
	out := p.clone()
	if f.Enabled != nil {
		out.Enabled = *f.Enabled
	}
	if f.StrictMode != nil {
		out.StrictMode = *f.StrictMode
	}
	if f.MaxInputLength != nil {
		out.MaxInputLength = *f.MaxInputLength
	}
	if f.MinKeywordMatches != nil {
		out.MinKeywordMatches = *f.MinKeywordMatches
	}
	if f.Profile != nil {
		out.Profile = *f.Profile
	}
	for k, v := range f.ContentFilters {
		out.ContentFilters[k] = v
	}
	for k, v := range f.ExtraPatterns {
		out.ExtraPatterns[k] = distinct(v)
	}
	if len(f.AllowedTopics) > 0 {
		out.AllowedTopics = distinct(f.AllowedTopics)
	}
	if len(f.DomainKeywords) > 0 {
		out.DomainKeywords = distinct(f.DomainKeywords)
	}
	if f.UnsafeOutput != nil {
		out.UnsafeOutput = distinct(f.UnsafeOutput)
	}
	return out
}

// distinct copies values, dropping blanks and repeats.
func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (p Policy) clone() Policy {
	out := p
	out.ContentFilters = make(map[Category]bool, len(p.ContentFilters))
	for k, v := range p.ContentFilters {
		out.ContentFilters[k] = v
	}
	out.ExtraPatterns = make(map[Category][]string, len(p.ExtraPatterns))
	for k, v := range p.ExtraPatterns {
		out.ExtraPatterns[k] = append([]string(nil), v...)
	}
	out.AllowedTopics = append([]string(nil), p.AllowedTopics...)
	out.DomainKeywords = append([]string(nil), p.DomainKeywords...)
	out.UnsafeOutput = append([]string(nil), p.UnsafeOutput...)
	return out
}

// Validate checks the fields a runtime update must carry.
func (p Policy) Validate() error {
	if p.MaxInputLength <= 0 {
		return &appconfig.ConfigurationError{Field: "guardrails.maxInputLength", Reason: "must be greater than zero"}
	}
	if p.ContentFilters == nil {
		return &appconfig.ConfigurationError{Field: "guardrails.contentFilters", Reason: "is required"}
	}
	switch p.Profile {
	case "", ProfileGeneral, ProfileMedical:
	default:
		return &appconfig.ConfigurationError{Field: "guardrails.profile", Reason: fmt.Sprintf("unknown profile %q", p.Profile)}
	}
	for category := range p.ExtraPatterns {
		if !isPatternCategory(category) {
			return &appconfig.ConfigurationError{Field: "guardrails.extraPatterns", Reason: fmt.Sprintf("unknown category %q", category)}
		}
	}
	return nil
}

// compiledPolicy is the immutable, ready-to-match form of a Policy.
type compiledPolicy struct {
	policy   Policy
	patterns map[Category][]*regexp.Regexp
	unsafe   []*regexp.Regexp
	topics   [][]string
	keywords []string
}

func compile(p Policy) (*compiledPolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.clone()
	if p.Profile == "" {
		p.Profile = ProfileGeneral
	}
	if p.MinKeywordMatches <= 0 {
		p.MinKeywordMatches = 1
	}

	c := &compiledPolicy{policy: p, patterns: make(map[Category][]*regexp.Regexp)}
	for _, category := range patternCategories {
		sources := append(append([]string(nil), defaultPatterns[category]...), p.ExtraPatterns[category]...)
		for _, src := range sources {
			re, err := regexp.Compile("(?is)" + src)
			if err != nil {
				return nil, &appconfig.ConfigurationError{Field: "guardrails.extraPatterns." + string(category), Reason: fmt.Sprintf("invalid pattern %q: %v", src, err)}
			}
			c.patterns[category] = append(c.patterns[category], re)
		}
	}
	for _, src := range append(append([]string(nil), defaultUnsafeOutput...), p.UnsafeOutput...) {
		re, err := regexp.Compile("(?is)" + src)
		if err != nil {
			return nil, &appconfig.ConfigurationError{Field: "guardrails.unsafeOutput", Reason: fmt.Sprintf("invalid pattern %q: %v", src, err)}
		}
		c.unsafe = append(c.unsafe, re)
	}

	topics := p.AllowedTopics
	if len(topics) == 0 {
		topics = defaultAllowedTopics
	}
	for _, topic := range topics {
		if words := strings.Fields(strings.ToLower(topic)); len(words) > 0 {
			c.topics = append(c.topics, words)
		}
	}
	c.keywords = p.DomainKeywords
	if len(c.keywords) == 0 {
		c.keywords = defaultDomainKeywords
	}
	return c, nil
}

func (c *compiledPolicy) patternCount() int {
	n := 0
	for _, list := range c.patterns {
		n += len(list)
	}
	return n
}
