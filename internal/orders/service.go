package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"finitefield.org/storefront/internal/apiclient"
)

// MaxAttachmentSize bounds evidence uploads.
const MaxAttachmentSize = 10 << 20

var (
	// ErrNotReturnable is returned when the order's status does not accept returns.
	ErrNotReturnable = errors.New("orders: order is not returnable")
	// ErrInvalidReturn is returned for an unknown line or a quantity outside 1..ordered.
	ErrInvalidReturn = errors.New("orders: invalid return request")
	// ErrInvalidAttachment is returned for empty, oversized or unsupported uploads.
	ErrInvalidAttachment = errors.New("orders: invalid attachment")
)

var allowedAttachmentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// Doer is the API client surface used by Service.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// Service wraps the order and return endpoints.
type Service struct {
	api Doer
}

// NewService returns a Service.
func NewService(api Doer) *Service {
	return &Service{api: api}
}

// ListMine lists the signed-in customer's orders.
func (s *Service) ListMine(ctx context.Context, creds apiclient.Credentials) ([]Order, error) {
	var out []Order
	if err := s.api.Do(ctx, apiclient.Request{Path: "/orders/me/", Session: creds}, &out); err != nil {
		return nil, fmt.Errorf("orders: list mine: %w", err)
	}
	return out, nil
}

// DetailMine fetches one of the signed-in customer's orders.
func (s *Service) DetailMine(ctx context.Context, creds apiclient.Credentials, id int64) (Order, error) {
	var out Order
	if err := s.api.Do(ctx, apiclient.Request{Path: fmt.Sprintf("/orders/me/%d/", id), Session: creds}, &out); err != nil {
		return Order{}, fmt.Errorf("orders: detail mine: %w", err)
	}
	return out, nil
}

// ListByEmail is the public lookup keyed on the order email.
func (s *Service) ListByEmail(ctx context.Context, creds apiclient.Credentials, email string) ([]Order, error) {
	var out []Order
	req := apiclient.Request{Path: "/orders/", Query: url.Values{"email": {strings.TrimSpace(email)}}, Public: true, Session: creds}
	if err := s.api.Do(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("orders: list by email: %w", err)
	}
	return out, nil
}

// DetailByEmail is the public single-order lookup.
func (s *Service) DetailByEmail(ctx context.Context, creds apiclient.Credentials, id int64, email string) (Order, error) {
	var out Order
	req := apiclient.Request{Path: fmt.Sprintf("/orders/%d/", id), Query: url.Values{"email": {strings.TrimSpace(email)}}, Public: true, Session: creds}
	if err := s.api.Do(ctx, req, &out); err != nil {
		return Order{}, fmt.Errorf("orders: detail by email: %w", err)
	}
	return out, nil
}

// Returns lists the return requests on an order, newest first.
func (s *Service) Returns(ctx context.Context, creds apiclient.Credentials, orderID int64) ([]Return, error) {
	var out []Return
	if err := s.api.Do(ctx, apiclient.Request{Path: fmt.Sprintf("/orders/%d/returns/", orderID), Session: creds}, &out); err != nil {
		return nil, fmt.Errorf("orders: returns: %w", err)
	}
	return out, nil
}

// ReturnInput is the RMA form.
type ReturnInput struct {
	OrderItemID int64  `json:"order_item_id"`
	Qty         int    `json:"qty"`
	Reason      string `json:"reason,omitempty"`
}

// Validate checks the request against the order before anything is sent.
func (in ReturnInput) Validate(order Order) error {
	if !order.Returnable() {
		return fmt.Errorf("%w: status %q", ErrNotReturnable, order.Status)
	}
	item, ok := order.Item(in.OrderItemID)
	if !ok {
		return fmt.Errorf("%w: unknown item %d", ErrInvalidReturn, in.OrderItemID)
	}
	if in.Qty < 1 || in.Qty > item.Qty {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidReturn, item.Qty)
	}
	return nil
}

// CreateReturn files a return and then refetches the order's return list.
func (s *Service) CreateReturn(ctx context.Context, creds apiclient.Credentials, order Order, in ReturnInput) ([]Return, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := in.Validate(order); err != nil {
		return nil, err
	}
	req := apiclient.Request{Method: http.MethodPost, Path: fmt.Sprintf("/orders/%d/returns/", order.ID), Body: in, Session: creds}
	if err := s.api.Do(ctx, req, nil); err != nil {
		return nil, fmt.Errorf("orders: create return: %w", err)
	}
	return s.Returns(ctx, creds, order.ID)
}

// Attachments lists the files on a return.
func (s *Service) Attachments(ctx context.Context, creds apiclient.Credentials, orderID, returnID int64) ([]Attachment, error) {
	var out []Attachment
	path := fmt.Sprintf("/orders/%d/returns/%d/attachments/", orderID, returnID)
	if err := s.api.Do(ctx, apiclient.Request{Path: path, Session: creds}, &out); err != nil {
		return nil, fmt.Errorf("orders: attachments: %w", err)
	}
	return out, nil
}

// Upload is one file selected for a return.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// Validate rejects empty, oversized and unsupported files.
func (u Upload) Validate() error {
	if u.Reader == nil || u.Size <= 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidAttachment)
	}
	if u.Size > MaxAttachmentSize {
		return fmt.Errorf("%w: file exceeds %d MB", ErrInvalidAttachment, MaxAttachmentSize>>20)
	}
	if !allowedAttachmentTypes[strings.ToLower(strings.TrimSpace(u.ContentType))] {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidAttachment, u.ContentType)
	}
	return nil
}

// UploadAttachment sends the file as multipart field "file" and then refetches the attachment list.
func (s *Service) UploadAttachment(ctx context.Context, creds apiclient.Credentials, orderID, returnID int64, up Upload) ([]Attachment, error) {
	if err := up.Validate(); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/orders/%d/returns/%d/attachments/", orderID, returnID)
	req := apiclient.Request{
		Method: http.MethodPost,
		Path:   path,
		Multipart: &apiclient.Multipart{
			Files: []apiclient.File{{Field: "file", Name: up.Name, ContentType: up.ContentType, Reader: up.Reader}},
		},
		Session: creds,
	}
	if err := s.api.Do(ctx, req, nil); err != nil {
		return nil, fmt.Errorf("orders: upload attachment: %w", err)
	}
	return s.Attachments(ctx, creds, orderID, returnID)
}
