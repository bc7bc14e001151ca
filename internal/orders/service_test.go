package orders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/auth"
	"finitefield.org/storefront/internal/money"
)

func newService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := apiclient.New(srv.URL+"/api/v1", apiclient.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return NewService(client)
}

func deliveredOrder() Order {
	return Order{
		ID:     31,
		Status: StatusDelivered,
		Items:  []Item{{ID: 101, SKU: "TEE-M", Qty: 2, Price: money.MustParse("499.00")}},
		Total:  money.MustParse("998.00"),
	}
}

func TestCreateReturnThenRefetch(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		created []ReturnInput
	)
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/orders/31/returns/", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			var in ReturnInput
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			created = append(created, in)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":5,"order_item_id":101,"qty":1,"status":"requested","reason":"Too small"}`))
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":5,"order_item_id":101,"qty":1,"status":"requested","reason":"Too small"}]`))
		}
	})

	returns, err := svc.CreateReturn(context.Background(), auth.NewMemoryStore("tok"), deliveredOrder(), ReturnInput{OrderItemID: 101, Qty: 1, Reason: " Too small "})
	require.NoError(t, err)
	require.Len(t, returns, 1)
	assert.Equal(t, ReturnRequested, returns[0].Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, created, 1)
	assert.Equal(t, "Too small", created[0].Reason)
}

func TestReturnValidation(t *testing.T) {
	t.Parallel()

	order := deliveredOrder()
	assert.NoError(t, ReturnInput{OrderItemID: 101, Qty: 2}.Validate(order))
	assert.ErrorIs(t, ReturnInput{OrderItemID: 101, Qty: 3}.Validate(order), ErrInvalidReturn)
	assert.ErrorIs(t, ReturnInput{OrderItemID: 101, Qty: 0}.Validate(order), ErrInvalidReturn)
	assert.ErrorIs(t, ReturnInput{OrderItemID: 999, Qty: 1}.Validate(order), ErrInvalidReturn)

	order.Status = StatusShipped
	assert.ErrorIs(t, ReturnInput{OrderItemID: 101, Qty: 1}.Validate(order), ErrNotReturnable)

	order.Status = StatusPaid
	assert.True(t, order.Returnable())
}

func TestUploadAttachmentThenRefetch(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		uploaded []string
	)
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/orders/31/returns/5/attachments/", r.URL.Path)
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			data, _ := io.ReadAll(file)
			uploaded = append(uploaded, header.Filename+":"+string(data))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":1}`))
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":1,"file":"http://media/rma/photo.jpg","mime":"image/jpeg","size":5,"created_at":"2024-05-02T08:00:00Z"}]`))
		}
	})

	attachments, err := svc.UploadAttachment(context.Background(), auth.NewMemoryStore("tok"), 31, 5, Upload{
		Name: "photo.jpg", ContentType: "image/jpeg", Size: 5, Reader: strings.NewReader("JPEG!"),
	})
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "image/jpeg", attachments[0].MIME)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"photo.jpg:JPEG!"}, uploaded)
}

func TestUploadValidation(t *testing.T) {
	t.Parallel()

	r := strings.NewReader("x")
	assert.ErrorIs(t, Upload{Name: "a.exe", ContentType: "application/x-msdownload", Size: 1, Reader: r}.Validate(), ErrInvalidAttachment)
	assert.ErrorIs(t, Upload{Name: "a.png", ContentType: "image/png", Size: 0, Reader: r}.Validate(), ErrInvalidAttachment)
	assert.ErrorIs(t, Upload{Name: "a.png", ContentType: "image/png", Size: MaxAttachmentSize + 1, Reader: r}.Validate(), ErrInvalidAttachment)
	assert.NoError(t, Upload{Name: "a.pdf", ContentType: "application/pdf", Size: 10, Reader: r}.Validate())
}

func TestListByEmailIsPublic(t *testing.T) {
	t.Parallel()

	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		require.Equal(t, "buyer@example.com", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`[{"id":3,"status":"created","total":"120.00","items":[]}]`))
	})

	list, err := svc.ListByEmail(context.Background(), auth.NewMemoryStore("stale"), "buyer@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "120.00", list[0].Total.String())
}
