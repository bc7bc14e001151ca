package ui

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/catalog"
	custommw "finitefield.org/storefront/internal/httpserver/middleware"
)

type homeData struct {
	Home  catalog.Home
	Nav   []catalog.NavCategory
	Error string
}

// Home renders banners, the category nav and the product rails.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := homeData{}
	home, err := h.catalog.Home(ctx)
	if err != nil {
		logger(r).Warn("home: content failed", zap.Error(err))
		data.Error = apiclient.Describe(err, "Could not load the home page.")
	}
	data.Home = home
	if nav, err := h.catalog.Nav(ctx); err == nil {
		data.Nav = nav
	} else {
		logger(r).Debug("home: nav failed", zap.Error(err))
	}
	h.render.Page(w, r, http.StatusOK, "home", h.view(r, "Home", data))
}

type productListData struct {
	Filter     catalog.Filter
	Page       catalog.Page[catalog.Product]
	Categories []catalog.Category
	Brands     []catalog.Brand
	PrevURL    string
	NextURL    string
	Error      string
}

// Products renders the filtered, paginated product list.
func (h *Handlers) Products(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := catalog.FilterFromQuery(r.URL.Query())
	data := productListData{Filter: filter}

	page, err := h.catalog.Products(ctx, filter)
	if err != nil {
		logger(r).Warn("products: list failed", zap.Error(err))
		data.Error = apiclient.Describe(err, "Could not load products.")
	}
	data.Page = page
	current := filter.Page
	if current < 1 {
		current = 1
	}
	if page.HasPrevious() {
		data.PrevURL = pageLink(r.URL, current-1)
	}
	if page.HasNext() {
		data.NextURL = pageLink(r.URL, current+1)
	}
	data.Categories, _ = h.catalog.Categories(ctx)
	data.Brands, _ = h.catalog.Brands(ctx)

	if custommw.WantsFragment(ctx) {
		h.render.Fragment(w, r, http.StatusOK, "product_grid", data)
		return
	}
	h.render.Page(w, r, http.StatusOK, "products", h.view(r, "Products", data))
}

type productData struct {
	Product     catalog.ProductDetail
	Description template.HTML
	Selected    catalog.Variant
	HasVariant  bool
	CartError   string
}

// Product renders the product detail page.
func (h *Handlers) Product(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.Product(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, catalog.ErrNotFound) {
		h.errorPage(w, r, http.StatusNotFound, "That product is no longer available.")
		return
	}
	if err != nil {
		logger(r).Warn("product: load failed", zap.Error(err))
		h.errorPage(w, r, http.StatusBadGateway, apiclient.Describe(err, "Could not load this product."))
		return
	}
	data := productData{
		Product:     product,
		Description: catalog.RenderDescription(product.Description),
	}
	if id, err := strconv.ParseInt(r.URL.Query().Get("variant"), 10, 64); err == nil {
		data.Selected, data.HasVariant = product.Variant(id)
	}
	if !data.HasVariant && len(product.Variants) > 0 {
		data.Selected, data.HasVariant = product.Variants[0], true
	}
	h.render.Page(w, r, http.StatusOK, "product", h.view(r, product.Name, data))
}

type searchData struct {
	Query   catalog.SearchQuery
	Result  catalog.SearchResult
	PrevURL string
	NextURL string
	Error   string
}

// Search renders limit/offset search results.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	sq := catalog.SearchQuery{
		Q:        q.Get("q"),
		Brand:    q.Get("brand"),
		Category: q.Get("category"),
		PriceMin: q.Get("price_min"),
		PriceMax: q.Get("price_max"),
		Limit:    limit,
		Offset:   offset,
	}.Normalize()
	data := searchData{Query: sq}

	if sq.Q != "" || sq.Brand != "" || sq.Category != "" {
		result, err := h.catalog.Search(r.Context(), sq)
		if err != nil {
			logger(r).Warn("search: failed", zap.Error(err))
			data.Error = apiclient.Describe(err, "Search is unavailable right now.")
		}
		data.Result = result
		if result.PrevOffset != nil {
			data.PrevURL = offsetLink(r.URL, *result.PrevOffset)
		}
		if result.NextOffset != nil {
			data.NextURL = offsetLink(r.URL, *result.NextOffset)
		}
	}

	if custommw.WantsFragment(r.Context()) {
		h.render.Fragment(w, r, http.StatusOK, "search_results", data)
		return
	}
	h.render.Page(w, r, http.StatusOK, "search", h.view(r, "Search", data))
}

// Suggest answers the search bar's type-ahead. Superseded and rate-limited
// lookups answer 204 so htmx leaves the current list in place.
func (h *Handlers) Suggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	suggestions, err := h.suggester.Suggest(r.Context(), h.session(r).ID(), q)
	switch {
	case err == nil:
	case errors.Is(err, catalog.ErrSuperseded), errors.Is(err, catalog.ErrSuggestLimited), r.Context().Err() != nil:
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		logger(r).Debug("suggest: lookup failed", zap.Error(err))
		suggestions = nil
	}
	h.render.Fragment(w, r, http.StatusOK, "suggestions", suggestions)
}

// StaticPage renders an embedded markdown page such as /pages/shipping.
func (h *Handlers) StaticPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.pages.Get(chi.URLParam(r, "slug"))
	if err != nil {
		h.errorPage(w, r, http.StatusNotFound, "We couldn't find that page.")
		return
	}
	h.render.Page(w, r, http.StatusOK, "page", h.view(r, page.Title, page))
}

func pageLink(u *url.URL, page int) string {
	q := u.Query()
	if page <= 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}
	return linkWith(u.Path, q)
}

func offsetLink(u *url.URL, offset int) string {
	q := u.Query()
	if offset <= 0 {
		q.Del("offset")
	} else {
		q.Set("offset", strconv.Itoa(offset))
	}
	return linkWith(u.Path, q)
}

func linkWith(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
