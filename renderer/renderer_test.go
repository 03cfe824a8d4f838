package renderer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/promptwtf/genprompt/analysis"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
func int64Ptr(i int64) *int64     { return &i }

// TestFormatParam tests the numeric display rules for generation parameters
func TestFormatParam(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{
			name:     "Nil interface",
			input:    nil,
			expected: "N/A",
		},
		{
			name:     "Nil float pointer",
			input:    (*float64)(nil),
			expected: "N/A",
		},
		{
			name:     "Nil int pointer",
			input:    (*int)(nil),
			expected: "N/A",
		},
		{
			name:     "CFG scale",
			input:    floatPtr(7.5),
			expected: "7.50",
		},
		{
			name:     "Step count",
			input:    intPtr(30),
			expected: "30.00",
		},
		{
			name:     "Whole number below threshold",
			input:    floatPtr(1000000),
			expected: "1000000.00",
		},
		{
			name:     "Seed above threshold",
			input:    int64Ptr(3735928559),
			expected: "3735928559",
		},
		{
			name:     "Large fractional value keeps decimals",
			input:    floatPtr(1000001.5),
			expected: "1000001.50",
		},
		{
			name:     "Plain float",
			input:    12.0,
			expected: "12.00",
		},
		{
			name:     "Non-numeric",
			input:    "euler_a",
			expected: "N/A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatParam(tt.input)
			if result != tt.expected {
				t.Errorf("formatParam(%v) = %q; want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestFormatSimilarity tests percentage display of cosine similarity
func TestFormatSimilarity(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{0.987, "98.7%"},
		{1.0, "100.0%"},
		{0, "0.0%"},
		{0.5049, "50.5%"},
	}

	for _, tt := range tests {
		if got := formatSimilarity(tt.input); got != tt.expected {
			t.Errorf("formatSimilarity(%v) = %q; want %q", tt.input, got, tt.expected)
		}
	}
}

// TestNewResultsViewTruncates verifies match caps and order preservation
func TestNewResultsViewTruncates(t *testing.T) {
	outcome := &analysis.Outcome{
		ImageMatches: []analysis.Match{
			{Similarity: 0.9, ImageName: "a.png"},
			{Similarity: 0.8, ImageName: "b.png"},
			{Similarity: 0.7, ImageName: "c.png"},
			{Similarity: 0.6, ImageName: "d.png"},
		},
		PromptMatches: []analysis.Match{
			{Similarity: 0.9, Prompt: "one"},
			{Similarity: 0.8, Prompt: "two"},
			{Similarity: 0.7, Prompt: "three"},
		},
	}

	v := NewResultsView(outcome)
	if len(v.ImageMatches) != 3 {
		t.Errorf("image matches = %d; want 3", len(v.ImageMatches))
	}
	if len(v.PromptMatches) != 2 {
		t.Errorf("prompt matches = %d; want 2", len(v.PromptMatches))
	}
	if v.ImageMatches[0].ImageName != "a.png" || v.ImageMatches[2].ImageName != "c.png" {
		t.Error("truncation must preserve backend order")
	}
	if v.Empty() {
		t.Error("populated view should not be empty")
	}
}

// TestNewResultsViewNil verifies the empty cases
func TestNewResultsViewNil(t *testing.T) {
	if v := NewResultsView(nil); !v.Empty() {
		t.Error("nil outcome should produce an empty view")
	}
	if v := NewResultsView(&analysis.Outcome{}); !v.Empty() {
		t.Error("empty outcome should produce an empty view")
	}
}

// TestResultsTemplateRenders executes the results partial end to end
func TestResultsTemplateRenders(t *testing.T) {
	seed := int64(3735928559)
	v := NewResultsView(&analysis.Outcome{
		ImageMatches: []analysis.Match{
			{
				Similarity: 0.912,
				ImageName:  "sunset.png",
				Prompt:     "a sunset over mountains",
				Model:      "sd-v1.5",
				Cfg:        floatPtr(7.5),
				Steps:      intPtr(30),
				Sampler:    "euler_a",
				Seed:       &seed,
			},
			{Similarity: 0.8},
		},
	})

	var buf bytes.Buffer
	if err := Templates().ExecuteTemplate(&buf, "results.go.html", v); err != nil {
		t.Fatalf("executing template: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"91.2%",
		"sunset.png",
		"a sunset over mountains",
		"7.50",
		"30.00",
		"3735928559",
		"copy-btn",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered output missing %q", want)
		}
	}
	// The second match has no recorded parameters.
	if !strings.Contains(out, "N/A") {
		t.Error("missing parameters should render as N/A")
	}
}

// TestEmptyStateTemplate verifies the no-results rendering
func TestEmptyStateTemplate(t *testing.T) {
	var buf bytes.Buffer
	if err := Templates().ExecuteTemplate(&buf, "results.go.html", ResultsView{}); err != nil {
		t.Fatalf("executing template: %v", err)
	}
	if !strings.Contains(buf.String(), "No similar images or prompts found") {
		t.Error("empty view should render the empty state")
	}
}
