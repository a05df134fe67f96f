package normalize

import (
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// CategorySet is the configured list of category labels. Lookups are
// case-insensitive and ignore surrounding whitespace.
type CategorySet struct {
	labels []string
	index  map[string]string // normalized -> canonical label
}

// NewCategorySet builds a set from labels, always including domain.Uncategorized.
// Duplicates are dropped; order is kept.
func NewCategorySet(labels []string) *CategorySet {
	set := &CategorySet{index: make(map[string]string, len(labels)+1)}
	for _, l := range append(append([]string{}, labels...), domain.Uncategorized) {
		l = strings.TrimSpace(l)
		key := normalizeCategory(l)
		if key == "" {
			continue
		}
		if _, exists := set.index[key]; exists {
			continue
		}
		set.index[key] = l
		set.labels = append(set.labels, l)
	}
	return set
}

// Labels returns the labels in configured order.
func (c *CategorySet) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

// Valid reports whether label names a configured category.
func (c *CategorySet) Valid(label string) bool {
	_, ok := c.index[normalizeCategory(label)]
	return ok
}

// Resolve returns the canonical spelling of label, or domain.Uncategorized
// when it is not in the set.
func (c *CategorySet) Resolve(label string) string {
	if canonical, ok := c.index[normalizeCategory(label)]; ok {
		return canonical
	}
	return domain.Uncategorized
}

// normalizeCategory converts to uppercase and trims whitespace for comparison.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
