// Package guardrails screens user input and generated output against a
// configurable policy of length, pattern, topic, and domain-safety rules.
package guardrails

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/mwiater/ragguard/internal/logging"
)

// Stage identifies which check produced a verdict.
type Stage string

const (
	StageNone     Stage = ""
	StageLength   Stage = "length"
	StagePatterns Stage = "patterns"
	StageTopic    Stage = "topic"
	StageSafety   Stage = "domain_safety"
	StageInternal Stage = "internal"
)

// Category names the rule family that matched.
type Category string

const (
	CategoryNone            Category = ""
	CategoryLength          Category = "length"
	CategoryPromptInjection Category = "prompt_injection"
	CategoryCodeInjection   Category = "code_injection"
	CategoryPersonalData    Category = "personal_data"
	CategoryProfanity       Category = "profanity"
	CategoryOffTopic        Category = "off_topic"
	CategoryUnsafeMedical   Category = "unsafe_medical_advice"
	CategoryInternalError   Category = "internal_error"
)

// patternCategories is the order in which pattern categories are checked.
var patternCategories = []Category{
	CategoryPromptInjection,
	CategoryCodeInjection,
	CategoryPersonalData,
	CategoryProfanity,
}

// outputCategories are screened on generated answers. Prompt injection only
// applies to what a user sends.
var outputCategories = []Category{
	CategoryCodeInjection,
	CategoryPersonalData,
	CategoryProfanity,
}

var categoryMessages = map[Category]string{
	CategoryPromptInjection: "Input contains prompt injection attempts",
	CategoryCodeInjection:   "Input contains potential code injection attempts",
	CategoryPersonalData:    "Input contains personal data that should not be shared",
	CategoryProfanity:       "Input contains inappropriate language",
}

func isPatternCategory(c Category) bool {
	_, ok := categoryMessages[c]
	return ok
}

const (
	// TechnicalErrorReason is the reason given when a check fails internally.
	TechnicalErrorReason = "Unable to process input due to technical error"
	// OffTopicReason is the reason given by the topic stage.
	OffTopicReason = "Input is not relevant to the supported topics"
	// SafetyMessage replaces an answer that fails the medical safety stage.
	SafetyMessage = "Response contains potentially unsafe medical advice. Please consult a healthcare professional."
	// MedicalDisclaimer is appended to answers under the medical profile.
	MedicalDisclaimer = "\n\n**Medical Disclaimer**: This information is for educational purposes only and should not be considered as medical advice. Always consult with qualified healthcare professionals for personal medical concerns, diagnosis, or treatment decisions."
)

// Verdict is the outcome of a check. Rejections always carry a Reason.
type Verdict struct {
	Allowed  bool     `json:"allowed"`
	Stage    Stage    `json:"stage,omitempty"`
	Category Category `json:"category,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

var allow = Verdict{Allowed: true}

func reject(stage Stage, category Category, reason string) Verdict {
	return Verdict{Stage: stage, Category: category, Reason: reason}
}

// OutputResult is the outcome of screening a generated answer. When
// Substituted is set, Text holds the replacement to send instead.
type OutputResult struct {
	Verdict
	Substituted bool   `json:"substituted"`
	Text        string `json:"text"`
}

// Status summarizes the active policy.
type Status struct {
	Enabled              bool              `json:"enabled"`
	StrictMode           bool              `json:"strict_mode"`
	MaxInputLength       int               `json:"max_input_length"`
	Profile              string            `json:"profile"`
	ContentFilters       map[Category]bool `json:"content_filters"`
	BlockedPatternsCount int               `json:"blocked_patterns_count"`
	UnsafeOutputCount    int               `json:"unsafe_output_patterns_count"`
	AllowedTopicsCount   int               `json:"allowed_topics_count"`
	DomainKeywordsCount  int               `json:"domain_keywords_count"`
}

// Filter applies a Policy. It holds no per-request state, and the policy can
// be swapped at runtime with Reconfigure.
type Filter struct {
	current atomic.Pointer[compiledPolicy]
}

// New compiles policy and returns a Filter using it.
func New(policy Policy) (*Filter, error) {
	compiled, err := compile(policy)
	if err != nil {
		return nil, err
	}
	f := &Filter{}
	f.current.Store(compiled)
	return f, nil
}

// Reconfigure validates and installs a new policy. On error the previous
// policy stays active.
func (f *Filter) Reconfigure(policy Policy) error {
	compiled, err := compile(policy)
	if err != nil {
		return err
	}
	f.current.Store(compiled)
	logging.LogEvent("[GUARDRAILS] policy updated: enabled=%t strict=%t profile=%s", compiled.policy.Enabled, compiled.policy.StrictMode, compiled.policy.Profile)
	return nil
}

// Policy returns a copy of the active policy.
func (f *Filter) Policy() Policy {
	return f.current.Load().policy.clone()
}

// Status reports the active policy's settings and rule counts.
func (f *Filter) Status() Status {
	c := f.current.Load()
	filters := make(map[Category]bool, len(c.policy.ContentFilters))
	for k, v := range c.policy.ContentFilters {
		filters[k] = v
	}
	return Status{
		Enabled:              c.policy.Enabled,
		StrictMode:           c.policy.StrictMode,
		MaxInputLength:       c.policy.MaxInputLength,
		Profile:              c.policy.Profile,
		ContentFilters:       filters,
		BlockedPatternsCount: c.patternCount(),
		UnsafeOutputCount:    len(c.unsafe),
		AllowedTopicsCount:   len(c.topics),
		DomainKeywordsCount:  len(c.keywords),
	}
}

// CheckLength rejects text longer than the configured maximum, counted in runes.
func (f *Filter) CheckLength(text string) Verdict {
	return f.current.Load().checkLength(text)
}

// CheckPatterns matches text against each enabled pattern category.
func (f *Filter) CheckPatterns(text string) Verdict {
	return f.current.Load().checkPatterns(text)
}

// CheckTopic requires text to mention an allowed topic or enough domain keywords.
func (f *Filter) CheckTopic(text string) Verdict {
	return f.current.Load().checkTopic(text)
}

// CheckDomainSafety rejects prescriptive medical language in generated text.
func (f *Filter) CheckDomainSafety(text string) Verdict {
	return f.current.Load().checkDomainSafety(text)
}

// CheckInput runs the input stages in order and stops at the first failure.
// A disabled policy admits everything. Otherwise a failure inside a stage is
// a rejection.
func (f *Filter) CheckInput(text string) Verdict {
	c := f.current.Load()
	if !c.policy.Enabled {
		return allow
	}
	v := guarded(func() Verdict {
		if v := c.checkLength(text); !v.Allowed {
			return v
		}
		if v := c.checkPatterns(text); !v.Allowed {
			return v
		}
		if c.policy.StrictMode {
			if v := c.checkTopic(text); !v.Allowed {
				return v
			}
		}
		return allow
	})
	if !v.Allowed {
		logging.LogVerdict("input", string(v.Stage), string(v.Category), v.Reason, false)
	}
	return v
}

// ValidateInput reports whether text passes CheckInput.
func (f *Filter) ValidateInput(text string) bool {
	return f.CheckInput(text).Allowed
}

// GetViolationReason returns the rejection reason for text, or "" when it passes.
func (f *Filter) GetViolationReason(text string) string {
	return f.CheckInput(text).Reason
}

// CheckOutput screens a generated answer. Pattern matches reject it. Under
// the medical profile unsafe advice is replaced by SafetyMessage and the
// disclaimer is appended to safe answers.
func (f *Filter) CheckOutput(text string) OutputResult {
	c := f.current.Load()
	if !c.policy.Enabled {
		return OutputResult{Verdict: allow, Text: text}
	}
	var result OutputResult
	v := guarded(func() Verdict {
		if v := c.checkCategories(text, outputCategories); !v.Allowed {
			v.Reason = strings.Replace(v.Reason, "Input", "Response", 1)
			return v
		}
		if c.policy.Profile == ProfileMedical {
			if v := c.checkDomainSafety(text); !v.Allowed {
				result.Substituted = true
				result.Text = SafetyMessage
				return v
			}
			result.Text = text + MedicalDisclaimer
			return allow
		}
		result.Text = text
		return allow
	})
	result.Verdict = v
	if !v.Allowed {
		logging.LogVerdict("output", string(v.Stage), string(v.Category), v.Reason, false)
	}
	if !v.Allowed && !result.Substituted {
		result.Text = ""
	}
	return result
}

// guarded runs check and turns a panic into a rejection.
func guarded(check func() Verdict) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogEvent("[GUARDRAILS] check failed: %v", r)
			v = reject(StageInternal, CategoryInternalError, TechnicalErrorReason)
		}
	}()
	return check()
}

func (c *compiledPolicy) checkLength(text string) Verdict {
	if n := len([]rune(text)); n > c.policy.MaxInputLength {
		return reject(StageLength, CategoryLength, fmt.Sprintf("Input exceeds maximum length of %d characters", c.policy.MaxInputLength))
	}
	return allow
}

func (c *compiledPolicy) checkPatterns(text string) Verdict {
	return c.checkCategories(text, patternCategories)
}

func (c *compiledPolicy) checkCategories(text string, categories []Category) Verdict {
	for _, category := range categories {
		if !c.policy.ContentFilters[category] {
			continue
		}
		for _, re := range c.patterns[category] {
			if re.MatchString(text) {
				logging.LogDebug("[GUARDRAILS] pattern %q matched (%s)", re.String(), category)
				return reject(StagePatterns, category, fmt.Sprintf("%s (blocked pattern category: %s)", categoryMessages[category], category))
			}
		}
	}
	return allow
}

func (c *compiledPolicy) checkTopic(text string) Verdict {
	lower := strings.ToLower(text)
	for _, words := range c.topics {
		matched := true
		for _, w := range words {
			if !strings.Contains(lower, w) {
				matched = false
				break
			}
		}
		if matched {
			return allow
		}
	}

	hits := 0
	for _, kw := range c.keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	if hits >= c.policy.MinKeywordMatches {
		return allow
	}
	return reject(StageTopic, CategoryOffTopic, OffTopicReason)
}

func (c *compiledPolicy) checkDomainSafety(text string) Verdict {
	for _, re := range c.unsafe {
		if re.MatchString(text) {
			return reject(StageSafety, CategoryUnsafeMedical, SafetyMessage)
		}
	}
	return allow
}
