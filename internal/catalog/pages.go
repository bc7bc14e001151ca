package catalog

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed content/*.md
var embeddedPages embed.FS

// ErrPageNotFound is returned for unknown page slugs.
var ErrPageNotFound = errors.New("catalog: page not found")

// StaticPage is a footer content page (shipping policy, returns policy...).
type StaticPage struct {
	Slug      string
	Title     string
	Summary   string
	Body      template.HTML
	UpdatedAt time.Time
	Order     int
	Footer    bool
}

type pageFrontMatter struct {
	Title     string `yaml:"title"`
	Summary   string `yaml:"summary"`
	UpdatedAt string `yaml:"updated_at"`
	Order     int    `yaml:"order"`
	Footer    *bool  `yaml:"footer"`
}

// Pages holds the parsed static pages.
type Pages struct {
	bySlug map[string]StaticPage
	list   []StaticPage
}

// LoadPages parses the pages embedded in the binary.
func LoadPages() (*Pages, error) {
	sub, err := fs.Sub(embeddedPages, "content")
	if err != nil {
		return nil, err
	}
	return LoadPagesFS(sub)
}

// LoadPagesFS parses every *.md file at the root of fsys.
func LoadPagesFS(fsys fs.FS) (*Pages, error) {
	names, err := fs.Glob(fsys, "*.md")
	if err != nil {
		return nil, err
	}
	p := &Pages{bySlug: make(map[string]StaticPage, len(names))}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("catalog: read page %s: %w", name, err)
		}
		page, err := parsePage(strings.TrimSuffix(path.Base(name), ".md"), string(data))
		if err != nil {
			return nil, err
		}
		p.bySlug[page.Slug] = page
		p.list = append(p.list, page)
	}
	sort.SliceStable(p.list, func(i, j int) bool {
		if p.list[i].Order != p.list[j].Order {
			return p.list[i].Order < p.list[j].Order
		}
		return p.list[i].Slug < p.list[j].Slug
	})
	return p, nil
}

// Get returns the page for slug.
func (p *Pages) Get(slug string) (StaticPage, error) {
	slug = strings.ToLower(strings.Trim(strings.TrimSpace(slug), "/"))
	if p == nil || slug == "" || strings.Contains(slug, "..") {
		return StaticPage{}, ErrPageNotFound
	}
	page, ok := p.bySlug[slug]
	if !ok {
		return StaticPage{}, ErrPageNotFound
	}
	return page, nil
}

// Footer lists pages linked from the footer, in order.
func (p *Pages) Footer() []StaticPage {
	if p == nil {
		return nil
	}
	out := make([]StaticPage, 0, len(p.list))
	for _, page := range p.list {
		if page.Footer {
			out = append(out, page)
		}
	}
	return out
}

func parsePage(slug, raw string) (StaticPage, error) {
	fm, body := splitFrontMatter(raw)
	front := pageFrontMatter{}
	if strings.TrimSpace(fm) != "" {
		if err := yaml.Unmarshal([]byte(fm), &front); err != nil {
			return StaticPage{}, fmt.Errorf("catalog: parse front matter %s: %w", slug, err)
		}
	}
	page := StaticPage{
		Slug:      slug,
		Title:     strings.TrimSpace(front.Title),
		Summary:   strings.TrimSpace(front.Summary),
		Body:      RenderDescription(body),
		UpdatedAt: parsePageDate(front.UpdatedAt),
		Order:     front.Order,
		Footer:    front.Footer == nil || *front.Footer,
	}
	if page.Title == "" {
		page.Title = prettifySlug(slug)
	}
	return page, nil
}

func splitFrontMatter(input string) (string, string) {
	input = strings.TrimLeft(input, "\ufeff")
	lines := strings.Split(input, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return "", input
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n\r")
		}
	}
	return "", input
}

func parsePageDate(v string) time.Time {
	v = strings.TrimSpace(v)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func prettifySlug(slug string) string {
	parts := strings.Split(slug, "-")
	for i, part := range parts {
		if part != "" {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, " ")
}
