package ui

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/catalog"
	custommw "finitefield.org/storefront/internal/httpserver/middleware"
	"finitefield.org/storefront/internal/money"
	"finitefield.org/storefront/internal/platform/observability"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	layoutFile   = "templates/layout.tmpl"
	partialsFile = "templates/partials.tmpl"
)

// View is the data every full page receives. Page-specific data sits in Data.
type View struct {
	Title       string
	CSRFToken   string
	Flash       string
	SignedIn    bool
	CartCount   int
	Query       string
	FooterPages []catalog.StaticPage
	Environment string
	Backoffice  bool
	StaffName   string
	Data        any
}

// Renderer executes the embedded templates. Each page is parsed into its own set
// on top of the layout and partials so "content" never collides.
type Renderer struct {
	pages     map[string]*template.Template
	fragments *template.Template
}

// NewRenderer parses every template once.
func NewRenderer(formatter money.Formatter, basePath string) (*Renderer, error) {
	funcs := templateFuncs(formatter, basePath)
	base, err := template.New("_root").Funcs(funcs).ParseFS(templateFS, layoutFile, partialsFile)
	if err != nil {
		return nil, fmt.Errorf("ui: parse layout: %w", err)
	}

	entries, err := fs.Glob(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(entries))
	for _, name := range entries {
		if name == layoutFile || name == partialsFile {
			continue
		}
		set, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := set.ParseFS(templateFS, name); err != nil {
			return nil, fmt.Errorf("ui: parse %s: %w", name, err)
		}
		pages[strings.TrimSuffix(path.Base(name), ".tmpl")] = set
	}
	return &Renderer{pages: pages, fragments: base}, nil
}

// Page renders a full page through the layout.
func (rn *Renderer) Page(w http.ResponseWriter, r *http.Request, status int, page string, view View) {
	set, ok := rn.pages[page]
	if !ok {
		observability.FromContext(r.Context()).Error("ui: unknown page", zap.String("page", page))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	rn.execute(w, r, status, set, "layout", view)
}

// Fragment renders one named partial without the layout, for htmx swaps.
func (rn *Renderer) Fragment(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	rn.execute(w, r, status, rn.fragments, name, data)
}

func (rn *Renderer) execute(w http.ResponseWriter, r *http.Request, status int, set *template.Template, name string, data any) {
	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, name, data); err != nil {
		observability.FromContext(r.Context()).Error("ui: template exec failed", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if custommw.IsHTMXRequest(r.Context()) {
		w.Header().Add("Vary", "HX-Request")
	}
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func templateFuncs(formatter money.Formatter, basePath string) template.FuncMap {
	return template.FuncMap{
		"money": formatter.Format,
		"bo": func(suffix string) string {
			return joinBasePath(basePath, suffix)
		},
		"date": func(v any) string {
			switch t := v.(type) {
			case time.Time:
				if t.IsZero() {
					return ""
				}
				return t.Format("2 Jan 2006")
			case *time.Time:
				if t == nil || t.IsZero() {
					return ""
				}
				return t.Format("2 Jan 2006")
			case *string:
				if t == nil {
					return ""
				}
				return *t
			}
			return ""
		},
		"add": func(a, b int) int { return a + b },
		"badge": func(count int) badgeData { return badgeData{Count: count} },
		"attrs": formatAttributes,
	}
}

// formatAttributes renders variant attributes as "color: red, size: M".
func formatAttributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, attrs[k]))
	}
	return strings.Join(parts, ", ")
}
