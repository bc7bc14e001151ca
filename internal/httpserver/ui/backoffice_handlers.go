package ui

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/backoffice"
	custommw "finitefield.org/storefront/internal/httpserver/middleware"
)

const datetimeLocalLayout = "2006-01-02T15:04"

type dashboardData struct {
	Dashboard  backoffice.Dashboard
	KPIs       []backoffice.KPI
	SummaryErr string
	TopErr     string
}

// Dashboard renders KPIs and top products; each report degrades on its own.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng := backoffice.ParseRange(q.Get("start"), q.Get("end"), h.now())
	dash := h.backoffice.Dashboard(r.Context(), h.session(r), rng)
	data := dashboardData{Dashboard: dash, KPIs: dash.KPIs(h.formatter)}
	if dash.SummaryErr != nil {
		data.SummaryErr = backoffice.Describe(dash.SummaryErr, "Summary is unavailable.")
	}
	if dash.TopErr != nil {
		data.TopErr = backoffice.Describe(dash.TopErr, "Top products are unavailable.")
	}
	h.render.Page(w, r, http.StatusOK, "bo_dashboard", h.view(r, "Dashboard", data))
}

// ---- banners ----

type bannersData struct {
	CSRF    string
	Banners []backoffice.Banner
	Editing *backoffice.Banner
	Form    backoffice.BannerInput
	Errors  map[string]string
	Error   string
}

// Banners lists banners with the create form.
func (h *Handlers) Banners(w http.ResponseWriter, r *http.Request) {
	data := bannersData{Form: backoffice.BannerInput{IsActive: true}}
	h.renderBanners(w, r, http.StatusOK, data)
}

// EditBanner shows the edit form for one banner.
func (h *Handlers) EditBanner(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "Banner not found.")
		return
	}
	banners, err := h.backoffice.ListBanners(r.Context(), h.session(r))
	if err != nil {
		h.renderBanners(w, r, http.StatusBadGateway, bannersData{Error: backoffice.Describe(err, "Could not load banners.")})
		return
	}
	for i := range banners {
		if banners[i].ID == id {
			b := banners[i]
			data := bannersData{
				Banners: banners,
				Editing: &b,
				Form:    backoffice.BannerInput{Title: b.Title, Alt: b.Alt, Href: b.Href, Sort: b.Sort, IsActive: b.IsActive},
				CSRF:    custommw.CSRFTokenFromContext(r.Context()),
			}
			h.render.Page(w, r, http.StatusOK, "bo_banners", h.view(r, "Edit banner", data))
			return
		}
	}
	h.errorPage(w, r, http.StatusNotFound, "Banner not found.")
}

// CreateBanner uploads a new banner image with its metadata.
func (h *Handlers) CreateBanner(w http.ResponseWriter, r *http.Request) {
	in, closeFile := bannerInputFrom(r)
	defer closeFile()
	err := h.backoffice.CreateBanner(r.Context(), h.session(r), in)
	if err != nil {
		in.Image = nil
		h.renderBanners(w, r, statusFor(err), bannersData{Form: in, Errors: fieldErrors(err, "title", "alt", "href", "sort", "image"), Error: backoffice.Describe(err, "Could not create the banner.")})
		return
	}
	h.flash(r, "Banner created.")
	custommw.Redirect(w, r, joinBasePath(h.basePath, "/banners"))
}

// UpdateBanner saves edits; the image is replaced only when a new one is chosen.
func (h *Handlers) UpdateBanner(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "Banner not found.")
		return
	}
	in, closeFile := bannerInputFrom(r)
	defer closeFile()
	if err := h.backoffice.UpdateBanner(r.Context(), h.session(r), id, in); err != nil {
		in.Image = nil
		data := bannersData{Editing: &backoffice.Banner{ID: id}, Form: in, Errors: fieldErrors(err, "title", "alt", "href", "sort", "image"), Error: backoffice.Describe(err, "Could not save the banner.")}
		h.renderBanners(w, r, statusFor(err), data)
		return
	}
	h.flash(r, "Banner saved.")
	custommw.Redirect(w, r, joinBasePath(h.basePath, "/banners"))
}

// ToggleBanner flips is_active.
func (h *Handlers) ToggleBanner(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "Banner not found.")
		return
	}
	err := h.backoffice.ToggleBanner(r.Context(), h.session(r), id, parseCheckbox(r.FormValue("active")))
	h.afterMutation(w, r, err, "/banners", "Could not update the banner.", func() {
		h.renderBanners(w, r, http.StatusOK, bannersData{})
	})
}

// DeleteBanner removes a banner.
func (h *Handlers) DeleteBanner(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "Banner not found.")
		return
	}
	err := h.backoffice.DeleteBanner(r.Context(), h.session(r), id)
	h.afterMutation(w, r, err, "/banners", "Could not delete the banner.", func() {
		h.renderBanners(w, r, http.StatusOK, bannersData{})
	})
}

func (h *Handlers) renderBanners(w http.ResponseWriter, r *http.Request, status int, data bannersData) {
	if data.Banners == nil {
		banners, err := h.backoffice.ListBanners(r.Context(), h.session(r))
		if err != nil {
			logger(r).Warn("backoffice: list banners failed", zap.Error(err))
			if data.Error == "" {
				data.Error = backoffice.Describe(err, "Could not load banners.")
			}
		}
		data.Banners = banners
	}
	data.CSRF = custommw.CSRFTokenFromContext(r.Context())
	if custommw.WantsFragment(r.Context()) {
		h.render.Fragment(w, r, status, "banner_table", data)
		return
	}
	h.render.Page(w, r, status, "bo_banners", h.view(r, "Banners", data))
}

func bannerInputFrom(r *http.Request) (backoffice.BannerInput, func()) {
	in := backoffice.BannerInput{
		Title:    strings.TrimSpace(r.FormValue("title")),
		Alt:      strings.TrimSpace(r.FormValue("alt")),
		Href:     strings.TrimSpace(r.FormValue("href")),
		Sort:     formInt(r, "sort", 0),
		IsActive: parseCheckbox(r.FormValue("is_active")),
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return in, func() {}
	}
	in.Image = &apiclient.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Reader:      file,
	}
	return in, func() { _ = file.Close() }
}

// ---- coupons ----

type couponForm struct {
	Code         string
	DiscountType string
	Value        string
	StartsAt     string
	EndsAt       string
	MinSubtotal  string
	MaxUses      string
	IsActive     bool
}

type couponsData struct {
	CSRF    string
	Coupons []backoffice.Coupon
	Now     time.Time
	Form    couponForm
	Errors  map[string]string
	Error   string
}

// Coupons lists coupons with the create form.
func (h *Handlers) Coupons(w http.ResponseWriter, r *http.Request) {
	h.renderCoupons(w, r, http.StatusOK, couponsData{Form: couponForm{DiscountType: backoffice.DiscountPercentage, IsActive: true}})
}

// CreateCoupon validates and creates a coupon.
func (h *Handlers) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	form := couponForm{
		Code:         strings.TrimSpace(r.FormValue("code")),
		DiscountType: r.FormValue("discount_type"),
		Value:        strings.TrimSpace(r.FormValue("value")),
		StartsAt:     strings.TrimSpace(r.FormValue("starts_at")),
		EndsAt:       strings.TrimSpace(r.FormValue("ends_at")),
		MinSubtotal:  strings.TrimSpace(r.FormValue("min_subtotal")),
		MaxUses:      strings.TrimSpace(r.FormValue("max_uses")),
		IsActive:     parseCheckbox(r.FormValue("is_active")),
	}
	in, errs := form.input()
	var err error
	if len(errs) > 0 {
		err = &backoffice.ValidationError{Fields: errs}
	} else {
		err = h.backoffice.CreateCoupon(r.Context(), h.session(r), in)
	}
	if err != nil {
		data := couponsData{Form: form, Errors: fieldErrors(err, "code", "discount_type", "value", "starts_at", "ends_at", "min_subtotal", "max_uses"), Error: backoffice.Describe(err, "Could not create the coupon.")}
		h.renderCoupons(w, r, statusFor(err), data)
		return
	}
	h.flash(r, "Coupon created.")
	custommw.Redirect(w, r, joinBasePath(h.basePath, "/coupons"))
}

// ToggleCoupon flips is_active.
func (h *Handlers) ToggleCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "Coupon not found.")
		return
	}
	err := h.backoffice.ToggleCoupon(r.Context(), h.session(r), id, parseCheckbox(r.FormValue("active")))
	h.afterMutation(w, r, err, "/coupons", "Could not update the coupon.", func() {
		h.renderCoupons(w, r, http.StatusOK, couponsData{})
	})
}

// DeleteCoupon removes a coupon once the confirmation box is ticked.
func (h *Handlers) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "Coupon not found.")
		return
	}
	if r.FormValue("confirm") != "yes" {
		h.flash(r, "Confirm the deletion first.")
		custommw.Redirect(w, r, joinBasePath(h.basePath, "/coupons"))
		return
	}
	err := h.backoffice.DeleteCoupon(r.Context(), h.session(r), id)
	h.afterMutation(w, r, err, "/coupons", "Could not delete the coupon.", func() {
		h.renderCoupons(w, r, http.StatusOK, couponsData{})
	})
}

func (h *Handlers) renderCoupons(w http.ResponseWriter, r *http.Request, status int, data couponsData) {
	coupons, err := h.backoffice.ListCoupons(r.Context(), h.session(r))
	if err != nil {
		logger(r).Warn("backoffice: list coupons failed", zap.Error(err))
		if data.Error == "" {
			data.Error = backoffice.Describe(err, "Could not load coupons.")
		}
	}
	data.Coupons = coupons
	data.Now = h.now()
	data.CSRF = custommw.CSRFTokenFromContext(r.Context())
	if custommw.WantsFragment(r.Context()) {
		h.render.Fragment(w, r, status, "coupon_table", data)
		return
	}
	h.render.Page(w, r, status, "bo_coupons", h.view(r, "Coupons", data))
}

func (f couponForm) input() (backoffice.CouponInput, map[string]string) {
	errs := map[string]string{}
	in := backoffice.CouponInput{
		Code:         f.Code,
		DiscountType: f.DiscountType,
		Value:        f.Value,
		MinSubtotal:  f.MinSubtotal,
		IsActive:     f.IsActive,
	}
	parse := func(field, value string) *time.Time {
		if value == "" {
			return nil
		}
		t, err := time.Parse(datetimeLocalLayout, value)
		if err != nil {
			errs[field] = "Use a valid date and time."
			return nil
		}
		t = t.UTC()
		return &t
	}
	in.StartsAt = parse("starts_at", f.StartsAt)
	in.EndsAt = parse("ends_at", f.EndsAt)
	if f.MaxUses != "" {
		n, err := strconv.Atoi(f.MaxUses)
		if err != nil {
			errs["max_uses"] = "Max uses must be a whole number."
		} else {
			in.MaxUses = &n
		}
	}
	return in, errs
}

// ---- shipping methods ----

type shippingData struct {
	CSRF    string
	Methods []backoffice.ShippingMethod
	Error   string
}

// ShippingMethods lists configured delivery options.
func (h *Handlers) ShippingMethods(w http.ResponseWriter, r *http.Request) {
	h.renderShipping(w, r, http.StatusOK, shippingData{})
}

// ToggleShippingMethod flips is_active.
func (h *Handlers) ToggleShippingMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "Shipping method not found.")
		return
	}
	err := h.backoffice.ToggleShippingMethod(r.Context(), h.session(r), id, parseCheckbox(r.FormValue("active")))
	h.afterMutation(w, r, err, "/shipping-methods", "Could not update the shipping method.", func() {
		h.renderShipping(w, r, http.StatusOK, shippingData{})
	})
}

func (h *Handlers) renderShipping(w http.ResponseWriter, r *http.Request, status int, data shippingData) {
	methods, err := h.backoffice.ListShippingMethods(r.Context(), h.session(r))
	if err != nil {
		logger(r).Warn("backoffice: list shipping methods failed", zap.Error(err))
		data.Error = backoffice.Describe(err, "Could not load shipping methods.")
	}
	data.Methods = methods
	data.CSRF = custommw.CSRFTokenFromContext(r.Context())
	if custommw.WantsFragment(r.Context()) {
		h.render.Fragment(w, r, status, "shipping_table", data)
		return
	}
	h.render.Page(w, r, status, "bo_shipping", h.view(r, "Shipping methods", data))
}

// afterMutation re-renders the table for htmx or redirects back to the list with a flash.
func (h *Handlers) afterMutation(w http.ResponseWriter, r *http.Request, err error, listPath, fallback string, rerender func()) {
	if err != nil {
		logger(r).Info("backoffice: mutation failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.flash(r, backoffice.Describe(err, fallback))
	}
	if custommw.WantsFragment(r.Context()) {
		rerender()
		return
	}
	custommw.Redirect(w, r, joinBasePath(h.basePath, listPath))
}

func fieldErrors(err error, fields ...string) map[string]string {
	var verr *backoffice.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	out := map[string]string{}
	if apiErr, ok := apiclient.AsError(err); ok {
		for _, f := range fields {
			if msg := apiErr.FieldError(f); msg != "" {
				out[f] = msg
			}
		}
	}
	return out
}

func statusFor(err error) int {
	if errors.Is(err, backoffice.ErrInvalidInput) || apiclient.IsStatus(err, http.StatusBadRequest) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}
