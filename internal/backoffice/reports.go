package backoffice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/money"
	"finitefield.org/storefront/internal/platform/observability"
)

const (
	dateLayout       = "2006-01-02"
	defaultRangeDays = 30
	defaultTopLimit  = 10
	maxTopLimit      = 50
)

// Range is an inclusive day range. Zero values select the last 30 days.
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange reads YYYY-MM-DD bounds. Invalid or inverted input yields the default range.
func ParseRange(start, end string, now time.Time) Range {
	s, errS := time.Parse(dateLayout, start)
	e, errE := time.Parse(dateLayout, end)
	if errS != nil || errE != nil || s.After(e) {
		return DefaultRange(now)
	}
	return Range{Start: s, End: e}
}

// DefaultRange is the 30 days ending today.
func DefaultRange(now time.Time) Range {
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Range{Start: end.AddDate(0, 0, -(defaultRangeDays - 1)), End: end}
}

func (r Range) query() url.Values {
	q := url.Values{}
	if !r.Start.IsZero() && !r.End.IsZero() {
		q.Set("start", r.Start.Format(dateLayout))
		q.Set("end", r.End.Format(dateLayout))
	}
	return q
}

// StartString formats the start day for forms.
func (r Range) StartString() string { return r.Start.Format(dateLayout) }

// EndString formats the end day for forms.
func (r Range) EndString() string { return r.End.Format(dateLayout) }

// Summary fetches headline metrics.
func (s *Service) Summary(ctx context.Context, creds apiclient.Credentials, r Range) (Summary, error) {
	var out Summary
	err := s.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/reports/summary", Query: r.query(), Session: creds}, &out)
	if err != nil {
		return Summary{}, fmt.Errorf("backoffice: summary: %w", err)
	}
	return out, nil
}

// TopProducts fetches the best sellers. limit is clamped to 1..50.
func (s *Service) TopProducts(ctx context.Context, creds apiclient.Credentials, r Range, limit int) (TopProducts, error) {
	if limit <= 0 {
		limit = defaultTopLimit
	}
	if limit > maxTopLimit {
		limit = maxTopLimit
	}
	q := r.query()
	q.Set("limit", strconv.Itoa(limit))
	var out TopProducts
	err := s.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/reports/top-products", Query: q, Session: creds}, &out)
	if err != nil {
		return TopProducts{}, fmt.Errorf("backoffice: top products: %w", err)
	}
	return out, nil
}

// Dashboard is the backoffice landing page. Each report loads independently, so one
// failing leaves the other rendered.
type Dashboard struct {
	Range      Range
	Summary    *Summary
	SummaryErr error
	Top        *TopProducts
	TopErr     error
}

// KPI is a dashboard metric card.
type KPI struct {
	ID    string
	Label string
	Value string
}

// Dashboard loads the summary and top products concurrently.
func (s *Service) Dashboard(ctx context.Context, creds apiclient.Credentials, r Range) Dashboard {
	if r.Start.IsZero() || r.End.IsZero() {
		r = DefaultRange(s.now())
	}
	d := Dashboard{Range: r}
	var g errgroup.Group
	g.Go(func() error {
		summary, err := s.Summary(ctx, creds, r)
		if err != nil {
			d.SummaryErr = err
			return nil
		}
		d.Summary = &summary
		return nil
	})
	g.Go(func() error {
		top, err := s.TopProducts(ctx, creds, r, defaultTopLimit)
		if err != nil {
			d.TopErr = err
			return nil
		}
		d.Top = &top
		return nil
	})
	_ = g.Wait()

	if d.SummaryErr != nil || d.TopErr != nil {
		observability.FromContext(ctx).Warn("backoffice: dashboard partially loaded",
			zap.NamedError("summary_error", d.SummaryErr),
			zap.NamedError("top_products_error", d.TopErr),
		)
	}
	return d
}

// KPIs renders the summary as metric cards.
func (d Dashboard) KPIs(f money.Formatter) []KPI {
	if d.Summary == nil {
		return nil
	}
	s := d.Summary
	return []KPI{
		{ID: "orders_created", Label: "Orders created", Value: strconv.Itoa(s.OrdersCreated)},
		{ID: "orders_paid", Label: "Orders paid", Value: strconv.Itoa(s.OrdersPaid)},
		{ID: "gmv", Label: "GMV", Value: f.Format(s.GMV)},
		{ID: "aov", Label: "Average order value", Value: f.Format(s.AOV)},
		{ID: "refunds", Label: "Refunds", Value: strconv.Itoa(s.RefundsCount) + " / " + f.Format(s.RefundsAmount)},
	}
}
