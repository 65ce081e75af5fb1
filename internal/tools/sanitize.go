package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Markers inserted by the sanitizer in place of removed content.
const (
	RedactedMarker      = "[REDACTED]"
	DepthExceededMarker = "[DEPTH_EXCEEDED]"
	truncatedSuffix     = "...[TRUNCATED]"
	arrayTruncatedNote  = "...[%d more items truncated]"
)

// SanitizerConfig controls truncation and redaction limits.
type SanitizerConfig struct {
	// MaxDepth bounds recursion into nested structures.
	MaxDepth int `yaml:"max_depth"`

	// MaxStringLen caps top-level string values.
	MaxStringLen int `yaml:"max_string_len"`

	// MaxNestedStringLen caps strings found inside arrays and objects.
	MaxNestedStringLen int `yaml:"max_nested_string_len"`

	// MaxArrayItems caps array length; excess items are dropped with a note.
	MaxArrayItems int `yaml:"max_array_items"`

	// SensitiveKeys are matched case-insensitively as substrings of object
	// keys; matching values are replaced with RedactedMarker.
	SensitiveKeys []string `yaml:"sensitive_keys"`
}

// DefaultSanitizerConfig returns the standard limits.
func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{
		MaxDepth:           10,
		MaxStringLen:       500,
		MaxNestedStringLen: 300,
		MaxArrayItems:      10,
		SensitiveKeys: []string{
			"password", "secret", "token", "credential", "apikey",
			"api_key", "authorization", "private_key",
		},
	}
}

// Sanitizer recursively truncates and redacts tool output before it leaves
// the trusted execution boundary. Type identity is preserved: null stays
// null, arrays stay arrays, objects stay objects.
type Sanitizer struct {
	config SanitizerConfig
}

// NewSanitizer creates a sanitizer, applying defaults for zero-valued limits.
func NewSanitizer(config SanitizerConfig) *Sanitizer {
	defaults := DefaultSanitizerConfig()
	if config.MaxDepth <= 0 {
		config.MaxDepth = defaults.MaxDepth
	}
	if config.MaxStringLen <= 0 {
		config.MaxStringLen = defaults.MaxStringLen
	}
	if config.MaxNestedStringLen <= 0 {
		config.MaxNestedStringLen = defaults.MaxNestedStringLen
	}
	if config.MaxArrayItems <= 0 {
		config.MaxArrayItems = defaults.MaxArrayItems
	}
	if config.SensitiveKeys == nil {
		config.SensitiveKeys = defaults.SensitiveKeys
	}
	return &Sanitizer{config: config}
}

// Sanitize returns a cleaned copy of value. It is idempotent:
// Sanitize(Sanitize(x)) equals Sanitize(x).
func (s *Sanitizer) Sanitize(value any) any {
	return s.sanitize(value, 0)
}

func (s *Sanitizer) sanitize(value any, depth int) any {
	if depth > s.config.MaxDepth {
		return DepthExceededMarker
	}

	switch v := value.(type) {
	case nil:
		return nil
	case string:
		limit := s.config.MaxStringLen
		if depth > 0 {
			limit = s.config.MaxNestedStringLen
		}
		return s.truncateString(v, limit)
	case bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return v
	case []any:
		return s.sanitizeArray(v, depth)
	case map[string]any:
		return s.sanitizeObject(v, depth)
	default:
		// Uncommon kinds (structs, typed slices) pass through untouched;
		// tools emit JSON-decoded values so this path carries scalars only.
		return v
	}
}

func (s *Sanitizer) truncateString(v string, limit int) string {
	if len(v) <= limit || strings.HasSuffix(v, truncatedSuffix) {
		return v
	}
	// Back up to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := limit
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	return v[:cut] + truncatedSuffix
}

func (s *Sanitizer) sanitizeArray(v []any, depth int) []any {
	// An already-capped array ends in a truncation note; re-capping it
	// would rewrite the note's count and break idempotence.
	if len(v) == s.config.MaxArrayItems+1 && isTruncationNote(v[len(v)-1]) {
		out := make([]any, 0, len(v))
		for _, item := range v[:len(v)-1] {
			out = append(out, s.sanitize(item, depth+1))
		}
		return append(out, v[len(v)-1])
	}

	out := make([]any, 0, len(v))
	for i, item := range v {
		if i >= s.config.MaxArrayItems {
			dropped := len(v) - s.config.MaxArrayItems
			out = append(out, fmt.Sprintf(arrayTruncatedNote, dropped))
			break
		}
		out = append(out, s.sanitize(item, depth+1))
	}
	return out
}

func isTruncationNote(v any) bool {
	note, ok := v.(string)
	return ok && strings.HasPrefix(note, "...[") && strings.HasSuffix(note, " more items truncated]")
}

func (s *Sanitizer) sanitizeObject(v map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(v))
	for key, item := range v {
		if s.isSensitiveKey(key) {
			out[key] = RedactedMarker
			continue
		}
		out[key] = s.sanitize(item, depth+1)
	}
	return out
}

func (s *Sanitizer) isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range s.config.SensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
