package fields

import "strings"

// CollapseWhitespace trims s and replaces every whitespace run with one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeDescription is the comparison form of a description: lower case
// with collapsed whitespace.
func NormalizeDescription(s string) string {
	return strings.ToLower(CollapseWhitespace(s))
}
