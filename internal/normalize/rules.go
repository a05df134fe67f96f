package normalize

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/dvloznov/finance-ingest/internal/fields"
	"gopkg.in/yaml.v3"
)

// CategoryRule assigns Category to descriptions containing any keyword as
// whole words.
type CategoryRule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// DefaultCategoryRules are tried in order; the first rule with a matching
// keyword wins.
var DefaultCategoryRules = []CategoryRule{
	{Category: "Rent", Keywords: []string{"rent", "landlord", "property management", "lease"}},
	{Category: "Groceries", Keywords: []string{
		"grocery", "groceries", "supermarket", "whole foods", "trader joe", "trader joes", "aldi", "lidl",
		"kroger", "safeway", "publix", "walmart grocery", "costco", "sprouts", "farmers market",
	}},
	{Category: "Dining", Keywords: []string{
		"starbucks", "coffee", "cafe", "restaurant", "diner", "bar", "grill", "pizza", "doordash",
		"uber eats", "grubhub", "chipotle", "panera", "subway", "mcdonald", "mcdonalds", "burger",
		"taco", "shake shack",
	}},
	{Category: "Transport", Keywords: []string{
		"uber", "lyft", "taxi", "transit", "metro", "train", "bus", "parking", "toll", "fuel",
		"exxon", "shell", "chevron",
	}},
	{Category: "Utilities", Keywords: []string{
		"electric", "power", "water", "sewer", "gas utility", "internet", "wifi", "verizon", "at&t",
		"t mobile", "comcast", "xfinity", "spectrum", "utility",
	}},
	{Category: "Investments", Keywords: []string{
		"brokerage", "robinhood", "vanguard", "fidelity", "schwab", "etrade", "td ameritrade", "investment",
	}},
	{Category: "Income", Keywords: []string{
		"payroll", "salary", "paycheck", "direct deposit", "bonus", "interest", "refund",
	}},
	{Category: "Shopping", Keywords: []string{
		"amazon", "target", "best buy", "walmart", "etsy", "shop", "store", "purchase", "order",
	}},
}

type keywordRule struct {
	category string
	keywords []string // padded word form
}

// Rules categorizes descriptions without the model: an exact override for
// the whole description first, then keyword rules in order.
type Rules struct {
	overrides map[string]string
	keywords  []keywordRule
}

// NewRules builds an immutable rule set. Override keys compare
// case-insensitively with whitespace collapsed.
func NewRules(overrides map[string]string, rules []CategoryRule) *Rules {
	r := &Rules{overrides: make(map[string]string, len(overrides))}
	for desc, category := range overrides {
		key := fields.NormalizeDescription(desc)
		category = strings.TrimSpace(category)
		if key == "" || category == "" {
			continue
		}
		r.overrides[key] = category
	}
	for _, rule := range rules {
		category := strings.TrimSpace(rule.Category)
		if category == "" {
			continue
		}
		kr := keywordRule{category: category}
		for _, kw := range rule.Keywords {
			if w := wordForm(kw); w != "  " {
				kr.keywords = append(kr.keywords, w)
			}
		}
		if len(kr.keywords) > 0 {
			r.keywords = append(r.keywords, kr)
		}
	}
	return r
}

// DefaultRules has no overrides and the default keyword rules.
func DefaultRules() *Rules {
	return NewRules(nil, DefaultCategoryRules)
}

// Override returns the category pinned to exactly this description.
func (r *Rules) Override(description string) (string, bool) {
	if r == nil {
		return "", false
	}
	category, ok := r.overrides[fields.NormalizeDescription(description)]
	return category, ok
}

// Keyword returns the category of the first rule with a keyword that
// appears in description as whole words.
func (r *Rules) Keyword(description string) (string, bool) {
	if r == nil {
		return "", false
	}
	desc := wordForm(description)
	if desc == "  " {
		return "", false
	}
	for _, rule := range r.keywords {
		for _, kw := range rule.keywords {
			if strings.Contains(desc, kw) {
				return rule.category, true
			}
		}
	}
	return "", false
}

// wordForm lower-cases s and separates its words by single spaces, padded
// on both ends so a containment test only matches whole words. Letters,
// digits and '&' form words.
func wordForm(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&'
	})
	return " " + strings.Join(words, " ") + " "
}

// rulesFile is the on-disk format.
//
//	replace_defaults: false
//	overrides:
//	  "NETFLIX.COM 866-579-7172": Subscriptions
//	keyword_rules:
//	  - category: Health
//	    keywords: [pharmacy, dental]
type rulesFile struct {
	ReplaceDefaults bool              `yaml:"replace_defaults"`
	Overrides       map[string]string `yaml:"overrides"`
	KeywordRules    []CategoryRule    `yaml:"keyword_rules"`
}

// LoadRules reads a YAML rules file. Its keyword rules are tried before
// DefaultCategoryRules unless the file sets replace_defaults.
func LoadRules(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRules: read %s: %w", path, err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("LoadRules: parse %s: %w", path, err)
	}

	rules := append([]CategoryRule(nil), f.KeywordRules...)
	if !f.ReplaceDefaults {
		rules = append(rules, DefaultCategoryRules...)
	}
	return NewRules(f.Overrides, rules), nil
}

// RuleSource owns the current rule set, replaced only by an explicit Reload.
type RuleSource struct {
	path    string
	current atomic.Pointer[Rules]
}

// NewRuleSource loads the rules at path, or the defaults when path is empty.
func NewRuleSource(path string) (*RuleSource, error) {
	s := &RuleSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// StaticRuleSource wraps an already built rule set.
func StaticRuleSource(r *Rules) *RuleSource {
	s := &RuleSource{}
	s.current.Store(r)
	return s
}

func (s *RuleSource) Current() *Rules {
	if s == nil {
		return nil
	}
	return s.current.Load()
}

// Reload re-reads the rules file. On error the previous rules stay in effect.
func (s *RuleSource) Reload() error {
	if s.path == "" {
		if s.current.Load() == nil {
			s.current.Store(DefaultRules())
		}
		return nil
	}

	r, err := LoadRules(s.path)
	if err != nil {
		return err
	}
	s.current.Store(r)
	return nil
}
