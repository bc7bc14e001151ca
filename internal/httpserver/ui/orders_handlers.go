package ui

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/storefront/internal/apiclient"
	custommw "finitefield.org/storefront/internal/httpserver/middleware"
	"finitefield.org/storefront/internal/orders"
)

type ordersData struct {
	Listing orders.Listing
	Error   string
}

// Orders lists the visitor's orders. A rejected token on the first load falls back
// to the public lookup by remembered email; htmx refreshes never fall back.
func (h *Handlers) Orders(w http.ResponseWriter, r *http.Request) {
	first := !custommw.IsHTMXRequest(r.Context())
	listing, err := h.history.Load(r.Context(), h.store(r), first)
	data := ordersData{Listing: listing}
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrNoLookupEmail):
		data.Error = "Sign in to see your orders."
	case apiclient.IsUnauthorized(err):
		data.Error = "Your session has expired. Please sign in again."
	default:
		logger(r).Warn("orders: list failed", zap.Error(err))
		data.Error = apiclient.Describe(err, "Could not load your orders.")
	}
	if custommw.WantsFragment(r.Context()) {
		h.render.Fragment(w, r, http.StatusOK, "order_list", data)
		return
	}
	h.render.Page(w, r, http.StatusOK, "orders", h.view(r, "Your orders", data))
}

type returnView struct {
	Return      orders.Return
	Attachments []orders.Attachment
}

type orderData struct {
	Order    orders.Order
	Fallback bool
	Returns  []returnView
	Error    string
}

// Order renders one order with its returns and their attachments.
func (h *Handlers) Order(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "We couldn't find that order.")
		return
	}
	data, status, msg := h.loadOrder(r, id)
	if status != http.StatusOK {
		h.errorPage(w, r, status, msg)
		return
	}
	h.render.Page(w, r, http.StatusOK, "order", h.view(r, fmt.Sprintf("Order #%d", id), data))
}

func (h *Handlers) loadOrder(r *http.Request, id int64) (orderData, int, string) {
	ctx := r.Context()
	store := h.store(r)
	order, fallback, err := h.history.Detail(ctx, store, id)
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrNoLookupEmail), apiclient.IsUnauthorized(err):
		return orderData{}, http.StatusUnauthorized, "Sign in to see this order."
	case apiclient.IsNotFound(err):
		return orderData{}, http.StatusNotFound, "We couldn't find that order."
	default:
		logger(r).Warn("orders: detail failed", zap.Int64("order_id", id), zap.Error(err))
		return orderData{}, http.StatusBadGateway, apiclient.Describe(err, "Could not load this order.")
	}

	data := orderData{Order: order, Fallback: fallback}
	returns, err := h.orders.Returns(ctx, store, id)
	if err != nil {
		logger(r).Info("orders: returns unavailable", zap.Int64("order_id", id), zap.Error(err))
		if !fallback {
			data.Error = apiclient.Describe(err, "Could not load returns for this order.")
		}
		return data, http.StatusOK, ""
	}

	data.Returns = make([]returnView, len(returns))
	var g errgroup.Group
	g.SetLimit(4)
	for i, ret := range returns {
		i, ret := i, ret
		data.Returns[i].Return = ret
		g.Go(func() error {
			files, err := h.orders.Attachments(ctx, store, id, ret.ID)
			if err != nil {
				logger(r).Debug("orders: attachments unavailable", zap.Int64("return_id", ret.ID), zap.Error(err))
				return nil
			}
			data.Returns[i].Attachments = files
			return nil
		})
	}
	_ = g.Wait()
	return data, http.StatusOK, ""
}

// CreateReturn files a return for one order line.
func (h *Handlers) CreateReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "We couldn't find that order.")
		return
	}
	store := h.store(r)
	order, _, err := h.history.Detail(r.Context(), store, id)
	if err != nil {
		h.flash(r, apiclient.Describe(err, "Could not load this order."))
		custommw.Redirect(w, r, orderPath(id))
		return
	}
	in := orders.ReturnInput{
		OrderItemID: formInt64(r, "order_item_id"),
		Qty:         formInt(r, "qty", 1),
		Reason:      r.FormValue("reason"),
	}
	if _, err := h.orders.CreateReturn(r.Context(), store, order, in); err != nil {
		logger(r).Info("orders: return rejected", zap.Int64("order_id", id), zap.Error(err))
		h.flash(r, returnMessage(err))
	} else {
		h.flash(r, "Return requested.")
	}
	custommw.Redirect(w, r, orderPath(id))
}

// UploadAttachment adds evidence to a return.
func (h *Handlers) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	rid, rok := idParam(r, "rid")
	if !ok || !rok {
		h.errorPage(w, r, http.StatusNotFound, "We couldn't find that return.")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.flash(r, "Choose a file to upload.")
		custommw.Redirect(w, r, orderPath(id))
		return
	}
	defer file.Close()

	up := orders.Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      file,
	}
	if _, err := h.orders.UploadAttachment(r.Context(), h.store(r), id, rid, up); err != nil {
		logger(r).Info("orders: attachment rejected", zap.Int64("return_id", rid), zap.Error(err))
		h.flash(r, attachmentMessage(err))
	} else {
		h.flash(r, "File uploaded.")
	}
	custommw.Redirect(w, r, orderPath(id))
}

func orderPath(id int64) string { return fmt.Sprintf("/orders/%d", id) }

func returnMessage(err error) string {
	switch {
	case errors.Is(err, orders.ErrNotReturnable):
		return "This order can't be returned."
	case errors.Is(err, orders.ErrInvalidReturn):
		return trimSentinel(err, "Check the item and quantity.")
	}
	return apiclient.Describe(err, "Could not request a return.")
}

func attachmentMessage(err error) string {
	if errors.Is(err, orders.ErrInvalidAttachment) {
		return trimSentinel(err, "That file can't be uploaded.")
	}
	return apiclient.Describe(err, "Could not upload the file.")
}

// trimSentinel turns "orders: invalid return request: quantity must be..." into "Quantity must be...".
func trimSentinel(err error, fallback string) string {
	msg := err.Error()
	idx := strings.LastIndex(msg, ": ")
	if idx < 0 || idx+2 >= len(msg) {
		return fallback
	}
	detail := msg[idx+2:]
	return strings.ToUpper(detail[:1]) + detail[1:] + "."
}
