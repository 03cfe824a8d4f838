// Package renderer turns analysis outcomes into HTML. Templates are
// embedded so the binary ships self-contained.
package renderer

import (
	"embed"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"log"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/promptwtf/genprompt/analysis"
)

var (
	templates *template.Template
	once      sync.Once
)

//go:embed templates/*.go.html
var templatesFS embed.FS

const templateGlob = "templates/*.go.html"

// Result cards cap how many matches are shown. Matches arrive already
// ordered by similarity, so the view just truncates.
const (
	maxImageMatches  = 3
	maxPromptMatches = 2
)

// ResultsView is the template model for one analysis outcome.
type ResultsView struct {
	ImageMatches  []analysis.Match
	PromptMatches []analysis.Match
}

// NewResultsView truncates an outcome to the displayed match counts,
// preserving the order the backend returned.
func NewResultsView(o *analysis.Outcome) ResultsView {
	var v ResultsView
	if o == nil {
		return v
	}
	v.ImageMatches = o.ImageMatches
	if len(v.ImageMatches) > maxImageMatches {
		v.ImageMatches = v.ImageMatches[:maxImageMatches]
	}
	v.PromptMatches = o.PromptMatches
	if len(v.PromptMatches) > maxPromptMatches {
		v.PromptMatches = v.PromptMatches[:maxPromptMatches]
	}
	return v
}

// Empty reports whether there is nothing to show.
func (v ResultsView) Empty() bool {
	return len(v.ImageMatches) == 0 && len(v.PromptMatches) == 0
}

// formatParam renders a generation parameter for display. Missing values
// show as "N/A". Integral values above a million are seeds and render
// without decimals; everything else gets exactly two decimal places.
func formatParam(v interface{}) string {
	f, ok := numericValue(v)
	if !ok {
		return "N/A"
	}
	if f > 1_000_000 && f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case *float64:
		if n == nil {
			return 0, false
		}
		return *n, true
	case *int:
		if n == nil {
			return 0, false
		}
		return float64(*n), true
	case *int64:
		if n == nil {
			return 0, false
		}
		return float64(*n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// formatSimilarity renders a 0..1 cosine similarity as a percentage.
func formatSimilarity(s float64) string {
	return fmt.Sprintf("%.1f%%", s*100)
}

// orDefault substitutes a placeholder for empty strings.
func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func htmlAttr(s string) string {
	return html.EscapeString(s)
}

func jsonFunc(v interface{}) (template.JS, error) {
	a, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return template.JS(a), nil
}

func initTemplates() *template.Template {
	tmpl, err := template.New("").
		Funcs(template.FuncMap{
			"formatParam":      formatParam,
			"formatSimilarity": formatSimilarity,
			"orDefault":        orDefault,
			"htmlAttr":         htmlAttr,
			"json":             jsonFunc,
		}).
		ParseFS(templatesFS, templateGlob)
	if err != nil {
		log.Fatalf("Error parsing embedded templates: %v", err)
	}
	return tmpl
}

// Templates returns the singleton instance of the parsed templates.
func Templates() *template.Template {
	once.Do(func() { templates = initTemplates() })
	return templates
}

// Logger wraps a handler with request timing output.
func Logger(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Println(time.Since(start), r.Method, r.URL.Path)
	}
}
