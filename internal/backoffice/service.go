// Package backoffice wraps the staff-only merchant endpoints: banners, coupons,
// shipping methods and reports.
package backoffice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/platform/observability"
)

var (
	// ErrNotStaff is returned when the caller is signed in but lacks staff rights.
	ErrNotStaff = errors.New("backoffice: staff access only")
	// ErrInvalidInput wraps form validation failures; see ValidationError.
	ErrInvalidInput = errors.New("backoffice: invalid input")
)

// contentCachePrefix matches the public cache keys of homepage content.
const contentCachePrefix = "content/"

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("backoffice: invalid input (%d fields)", len(e.Fields))
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Doer is the API client surface used by Service.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// Invalidator drops cached public responses.
type Invalidator interface {
	Invalidate(ctx context.Context, prefix string)
}

// Service talks to /backoffice/* and /reports/*. Every call is authenticated.
type Service struct {
	api   Doer
	cache Invalidator
	now   func() time.Time
}

// NewService returns a Service. cache may be nil.
func NewService(api Doer, cache Invalidator) *Service {
	return &Service{api: api, cache: cache, now: time.Now}
}

// Me verifies the caller is staff.
func (s *Service) Me(ctx context.Context, creds apiclient.Credentials) (Staff, error) {
	var staff Staff
	err := s.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/backoffice/me", Session: creds}, &staff)
	if apiclient.IsForbidden(err) {
		return Staff{}, ErrNotStaff
	}
	if err != nil {
		return Staff{}, fmt.Errorf("backoffice: me: %w", err)
	}
	if !staff.IsStaff {
		return Staff{}, ErrNotStaff
	}
	return staff, nil
}

// ---- banners ----

// BannerInput is the banner form. Image is required on create.
type BannerInput struct {
	Title    string
	Alt      string
	Href     string
	Sort     int
	IsActive bool
	Image    *apiclient.File
}

// Validate checks the form. create requires an image.
func (in BannerInput) Validate(create bool) error {
	fields := map[string]string{}
	if strings.TrimSpace(in.Alt) == "" {
		fields["alt"] = "Alt text is required."
	}
	if create && (in.Image == nil || in.Image.Reader == nil) {
		fields["image"] = "Choose an image."
	}
	if in.Image != nil && in.Image.ContentType != "" && !strings.HasPrefix(in.Image.ContentType, "image/") {
		fields["image"] = "The file must be an image."
	}
	if in.Sort < 0 {
		fields["sort"] = "Sort must be zero or more."
	}
	if href := strings.TrimSpace(in.Href); href != "" && !strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		fields["href"] = "Link must be a path or an http(s) URL."
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (in BannerInput) multipart() *apiclient.Multipart {
	m := &apiclient.Multipart{Fields: map[string]string{
		"title":     strings.TrimSpace(in.Title),
		"alt":       strings.TrimSpace(in.Alt),
		"href":      strings.TrimSpace(in.Href),
		"sort":      strconv.Itoa(in.Sort),
		"is_active": strconv.FormatBool(in.IsActive),
	}}
	if in.Image != nil && in.Image.Reader != nil {
		file := *in.Image
		file.Field = "image"
		m.Files = []apiclient.File{file}
	}
	return m
}

// ListBanners lists every banner in display order.
func (s *Service) ListBanners(ctx context.Context, creds apiclient.Credentials) ([]Banner, error) {
	var raw json.RawMessage
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/backoffice/banners/", Session: creds}, &raw); err != nil {
		return nil, fmt.Errorf("backoffice: list banners: %w", err)
	}
	return listOf[Banner](raw)
}

// CreateBanner uploads a new banner.
func (s *Service) CreateBanner(ctx context.Context, creds apiclient.Credentials, in BannerInput) error {
	if err := in.Validate(true); err != nil {
		return err
	}
	err := s.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/backoffice/banners/", Multipart: in.multipart(), Session: creds}, nil)
	if err != nil {
		return fmt.Errorf("backoffice: create banner: %w", err)
	}
	s.invalidateContent(ctx)
	return nil
}

// UpdateBanner patches a banner; the image is replaced only when given.
func (s *Service) UpdateBanner(ctx context.Context, creds apiclient.Credentials, id int64, in BannerInput) error {
	if err := in.Validate(false); err != nil {
		return err
	}
	err := s.api.Do(ctx, apiclient.Request{Method: http.MethodPatch, Path: bannerPath(id), Multipart: in.multipart(), Session: creds}, nil)
	if err != nil {
		return fmt.Errorf("backoffice: update banner %d: %w", id, err)
	}
	s.invalidateContent(ctx)
	return nil
}

// ToggleBanner sets is_active. The banner endpoint only parses form bodies.
func (s *Service) ToggleBanner(ctx context.Context, creds apiclient.Credentials, id int64, active bool) error {
	body := &apiclient.Multipart{Fields: map[string]string{"is_active": strconv.FormatBool(active)}}
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodPatch, Path: bannerPath(id), Multipart: body, Session: creds}, nil); err != nil {
		return fmt.Errorf("backoffice: toggle banner %d: %w", id, err)
	}
	s.invalidateContent(ctx)
	return nil
}

// DeleteBanner removes a banner.
func (s *Service) DeleteBanner(ctx context.Context, creds apiclient.Credentials, id int64) error {
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: bannerPath(id), Session: creds}, nil); err != nil {
		return fmt.Errorf("backoffice: delete banner %d: %w", id, err)
	}
	s.invalidateContent(ctx)
	return nil
}

func bannerPath(id int64) string { return "/backoffice/banners/" + strconv.FormatInt(id, 10) + "/" }

func (s *Service) invalidateContent(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, contentCachePrefix)
	observability.FromContext(ctx).Debug("backoffice: content cache invalidated", zap.String("prefix", contentCachePrefix))
}

// ---- coupons ----

// CouponInput is the coupon form.
type CouponInput struct {
	Code         string
	DiscountType string
	Value        string
	StartsAt     *time.Time
	EndsAt       *time.Time
	MinSubtotal  string
	MaxUses      *int
	IsActive     bool
}

type couponPayload struct {
	Code         string     `json:"code"`
	DiscountType string     `json:"discount_type"`
	Value        string     `json:"value"`
	StartsAt     *time.Time `json:"starts_at"`
	EndsAt       *time.Time `json:"ends_at"`
	MinSubtotal  string     `json:"min_subtotal,omitempty"`
	MaxUses      *int       `json:"max_uses"`
	IsActive     bool       `json:"is_active"`
}

// Validate mirrors the backend's coupon rules so the form can show field errors first.
func (in CouponInput) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(in.Code) == "" {
		fields["code"] = "Code is required."
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(in.Value), 64)
	switch {
	case err != nil || value <= 0:
		fields["value"] = "Value must be greater than zero."
	case in.DiscountType == DiscountPercentage && value > 100:
		fields["value"] = "A percentage cannot exceed 100."
	}
	if in.DiscountType != DiscountPercentage && in.DiscountType != DiscountFixed {
		fields["discount_type"] = "Choose percentage or fixed."
	}
	if minSubtotal := strings.TrimSpace(in.MinSubtotal); minSubtotal != "" {
		if v, err := strconv.ParseFloat(minSubtotal, 64); err != nil || v < 0 {
			fields["min_subtotal"] = "Minimum subtotal must be zero or more."
		}
	}
	if in.MaxUses != nil && *in.MaxUses < 1 {
		fields["max_uses"] = "Max uses must be at least 1."
	}
	if in.StartsAt != nil && in.EndsAt != nil && in.EndsAt.Before(*in.StartsAt) {
		fields["ends_at"] = "End must be after start."
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ListCoupons lists coupons, active first.
func (s *Service) ListCoupons(ctx context.Context, creds apiclient.Credentials) ([]Coupon, error) {
	var raw json.RawMessage
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/backoffice/coupons/", Session: creds}, &raw); err != nil {
		return nil, fmt.Errorf("backoffice: list coupons: %w", err)
	}
	return listOf[Coupon](raw)
}

// CreateCoupon creates a coupon. The code is upper-cased.
func (s *Service) CreateCoupon(ctx context.Context, creds apiclient.Credentials, in CouponInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	body := couponPayload{
		Code:         strings.ToUpper(strings.TrimSpace(in.Code)),
		DiscountType: in.DiscountType,
		Value:        strings.TrimSpace(in.Value),
		StartsAt:     in.StartsAt,
		EndsAt:       in.EndsAt,
		MinSubtotal:  strings.TrimSpace(in.MinSubtotal),
		MaxUses:      in.MaxUses,
		IsActive:     in.IsActive,
	}
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/backoffice/coupons/", Body: body, Session: creds}, nil); err != nil {
		return fmt.Errorf("backoffice: create coupon: %w", err)
	}
	return nil
}

// ToggleCoupon sets is_active with a JSON PATCH.
func (s *Service) ToggleCoupon(ctx context.Context, creds apiclient.Credentials, id int64, active bool) error {
	path := "/backoffice/coupons/" + strconv.FormatInt(id, 10) + "/"
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodPatch, Path: path, Body: map[string]bool{"is_active": active}, Session: creds}, nil); err != nil {
		return fmt.Errorf("backoffice: toggle coupon %d: %w", id, err)
	}
	return nil
}

// DeleteCoupon removes a coupon.
func (s *Service) DeleteCoupon(ctx context.Context, creds apiclient.Credentials, id int64) error {
	path := "/backoffice/coupons/" + strconv.FormatInt(id, 10) + "/"
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: path, Session: creds}, nil); err != nil {
		return fmt.Errorf("backoffice: delete coupon %d: %w", id, err)
	}
	return nil
}

// ---- shipping methods ----

// ListShippingMethods lists every shipping method.
func (s *Service) ListShippingMethods(ctx context.Context, creds apiclient.Credentials) ([]ShippingMethod, error) {
	var raw json.RawMessage
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/backoffice/shipping-methods/", Session: creds}, &raw); err != nil {
		return nil, fmt.Errorf("backoffice: list shipping methods: %w", err)
	}
	return listOf[ShippingMethod](raw)
}

// ToggleShippingMethod sets is_active.
func (s *Service) ToggleShippingMethod(ctx context.Context, creds apiclient.Credentials, id int64, active bool) error {
	path := "/backoffice/shipping-methods/" + strconv.FormatInt(id, 10) + "/"
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodPatch, Path: path, Body: map[string]bool{"is_active": active}, Session: creds}, nil); err != nil {
		return fmt.Errorf("backoffice: toggle shipping method %d: %w", id, err)
	}
	return nil
}

// listOf decodes either a bare array or a paginated {"results": [...]} envelope.
func listOf[T any](raw json.RawMessage) ([]T, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var out []T
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("backoffice: decode list: %w", err)
		}
		return out, nil
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("backoffice: decode page: %w", err)
	}
	return page.Results, nil
}

// Describe turns a backoffice failure into staff-facing wording.
func Describe(err error, fallback string) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return "Please fix the highlighted fields."
	}
	if errors.Is(err, ErrNotStaff) {
		return "Staff access only."
	}
	return apiclient.Describe(err, fallback)
}
