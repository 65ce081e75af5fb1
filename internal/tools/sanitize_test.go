package tools

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeStringTruncation(t *testing.T) {
	s := NewSanitizer(SanitizerConfig{MaxStringLen: 10, MaxNestedStringLen: 5})

	got, ok := s.Sanitize(strings.Repeat("a", 20)).(string)
	if !ok {
		t.Fatalf("expected string, got %T", got)
	}
	if got != strings.Repeat("a", 10)+"...[TRUNCATED]" {
		t.Errorf("unexpected top-level truncation: %q", got)
	}

	// Short strings pass through unchanged.
	if got := s.Sanitize("short"); got != "short" {
		t.Errorf("short string modified: %v", got)
	}

	// Nested strings use the tighter limit.
	nested := s.Sanitize(map[string]any{"body": "abcdefghij"}).(map[string]any)
	if nested["body"] != "abcde...[TRUNCATED]" {
		t.Errorf("unexpected nested truncation: %q", nested["body"])
	}
}

func TestSanitizeTruncationKeepsValidUTF8(t *testing.T) {
	// 3-byte runes with a 10-byte limit force a cut inside a rune.
	s := NewSanitizer(SanitizerConfig{MaxStringLen: 10})

	got := s.Sanitize(strings.Repeat("日", 5)).(string)
	if !utf8.ValidString(got) {
		t.Errorf("truncated string is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, truncatedSuffix) {
		t.Errorf("truncation marker missing: %q", got)
	}
	if !strings.HasPrefix(got, "日日日") || strings.HasPrefix(got, "日日日日") {
		t.Errorf("expected cut after 3 runes, got %q", got)
	}
}

func TestSanitizeTypePreservation(t *testing.T) {
	s := NewSanitizer(DefaultSanitizerConfig())

	if got := s.Sanitize(nil); got != nil {
		t.Errorf("nil became %v", got)
	}
	if got := s.Sanitize(true); got != true {
		t.Errorf("bool became %v", got)
	}
	if got := s.Sanitize(float64(3.5)); got != float64(3.5) {
		t.Errorf("number became %v", got)
	}
	if _, ok := s.Sanitize([]any{"a"}).([]any); !ok {
		t.Error("array changed type")
	}
	if _, ok := s.Sanitize(map[string]any{"k": "v"}).(map[string]any); !ok {
		t.Error("object changed type")
	}
}

func TestSanitizeArrayCap(t *testing.T) {
	s := NewSanitizer(SanitizerConfig{MaxArrayItems: 3})

	in := []any{"a", "b", "c", "d", "e"}
	got := s.Sanitize(in).([]any)
	if len(got) != 4 {
		t.Fatalf("expected 3 items plus note, got %d elements", len(got))
	}
	if got[3] != "...[2 more items truncated]" {
		t.Errorf("unexpected truncation note: %v", got[3])
	}

	// An array at the limit is untouched.
	exact := s.Sanitize([]any{"a", "b", "c"}).([]any)
	if len(exact) != 3 {
		t.Errorf("array at limit was capped: %v", exact)
	}
}

func TestSanitizeDepthLimit(t *testing.T) {
	s := NewSanitizer(SanitizerConfig{MaxDepth: 2})

	in := map[string]any{
		"l1": map[string]any{
			"l2": map[string]any{
				"l3": "too deep",
			},
		},
	}
	got := s.Sanitize(in).(map[string]any)
	l1 := got["l1"].(map[string]any)
	l2 := l1["l2"].(map[string]any)
	if l2["l3"] != DepthExceededMarker {
		t.Errorf("expected depth marker, got %v", l2["l3"])
	}
}

func TestSanitizeRedaction(t *testing.T) {
	s := NewSanitizer(DefaultSanitizerConfig())

	in := map[string]any{
		"title":        "visible",
		"password":     "hunter2",
		"API_KEY":      "sk-123",
		"accessToken":  "abc",
		"user_secrets": []any{"x"},
	}
	got := s.Sanitize(in).(map[string]any)
	if got["title"] != "visible" {
		t.Errorf("non-sensitive key modified: %v", got["title"])
	}
	for _, key := range []string{"password", "API_KEY", "accessToken", "user_secrets"} {
		if got[key] != RedactedMarker {
			t.Errorf("key %s not redacted: %v", key, got[key])
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	s := NewSanitizer(SanitizerConfig{
		MaxDepth:           3,
		MaxStringLen:       10,
		MaxNestedStringLen: 8,
		MaxArrayItems:      2,
	})

	inputs := []any{
		strings.Repeat("x", 50),
		[]any{"aaaaaaaaaaaaaaaa", "b", "c", "d"},
		map[string]any{
			"password": "secret",
			"items":    []any{1.0, 2.0, 3.0, 4.0, 5.0},
			"deep":     map[string]any{"a": map[string]any{"b": map[string]any{"c": "d"}}},
		},
	}
	for _, in := range inputs {
		once := s.Sanitize(in)
		twice := s.Sanitize(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("not idempotent:\n once: %#v\ntwice: %#v", once, twice)
		}
	}
}
