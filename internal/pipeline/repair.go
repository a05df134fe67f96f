package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"
)

var errEmptyResponse = errors.New("empty model response")

// decodeModelJSON turns raw model text into a generic JSON value. Output that
// is not strictly valid is repaired where possible; repaired reports whether
// that happened. Numbers decode as json.Number so amounts keep their digits.
func decodeModelJSON(raw string) (value any, repaired bool, err error) {
	s := stripFences(raw)
	if s == "" {
		return nil, false, errEmptyResponse
	}

	if v, ok := decodeStrict(s); ok {
		return v, false, nil
	}

	if items, ok := salvageArray(s); ok {
		return items, true, nil
	}

	if v, ok := repairSyntax(s); ok {
		return v, true, nil
	}

	if v, ok := largestSubstructure(s); ok {
		return v, true, nil
	}

	return nil, false, errors.New("no well-formed JSON in model response")
}

// stripFences drops Markdown code fences the model may wrap around its answer.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return strings.TrimSpace(strings.Trim(s, "`"))
		}
		s = s[idx+1:]
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	return strings.TrimSpace(s)
}

func newDecoder(s string) *json.Decoder {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	return dec
}

// decodeStrict accepts s only if it is exactly one JSON value.
func decodeStrict(s string) (any, bool) {
	dec := newDecoder(s)
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return v, true
}

// salvageArray stream-decodes the elements of the first JSON array in s and
// keeps every element that decoded completely. It covers truncated output and
// trailing chatter after an otherwise valid array.
func salvageArray(s string) ([]any, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return nil, false
	}

	dec := newDecoder(s[start:])
	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return nil, false
	}

	var items []any
	for dec.More() {
		var item any
		if err := dec.Decode(&item); err != nil {
			break
		}
		items = append(items, item)
	}

	return items, len(items) > 0
}

// repairSyntax fixes common model slips from the first bracket on: single
// quotes, trailing commas, Python literals, unterminated strings and missing
// closing brackets. Only an object or array counts as a result.
func repairSyntax(s string) (any, bool) {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return nil, false
	}

	fixed, err := jsonrepair.JSONRepair(s[start:])
	if err != nil {
		return nil, false
	}

	v, ok := decodeStrict(fixed)
	if !ok {
		return nil, false
	}
	switch v.(type) {
	case []any, map[string]any:
		return v, true
	}
	return nil, false
}

// largestSubstructure finds the longest span of s, starting at '{' or '[',
// that decodes as one JSON value.
func largestSubstructure(s string) (any, bool) {
	var (
		best    any
		bestLen int
	)

	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}

		dec := newDecoder(s[i:])
		var v any
		if err := dec.Decode(&v); err != nil {
			continue
		}

		n := int(dec.InputOffset())
		if n > bestLen {
			best, bestLen = v, n
		}
		// Anything starting inside this value is smaller.
		i += n - 1
	}

	return best, bestLen > 0
}

// echo shortens model output for warnings and logs.
func echo(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	if len(s) <= maxEchoedChars {
		return s
	}
	n := maxEchoedChars
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// compactJSON renders v on one line; used when building prompts.
func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
