package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfstudio/entitlement"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{SecretKey: "sk_test_123", BaseURL: srv.URL, PriceID: "price_1", SuccessURL: "https://x/ok", CancelURL: "https://x/cancel"}, nil)
	require.NoError(t, err)
	return c
}

func checkAuth(t *testing.T, r *http.Request) {
	assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
}

type listPage struct {
	Object  string           `json:"object"`
	URL     string           `json:"url"`
	HasMore bool             `json:"has_more"`
	Data    []map[string]any `json:"data"`
}

func paidSession(id, email, product string, created int64) map[string]any {
	return map[string]any{
		"id":             id,
		"object":         "checkout.session",
		"status":         "complete",
		"payment_status": "paid",
		"customer_email": email,
		"created":        created,
		"metadata":       map[string]string{MetadataProduct: product},
	}
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestVerifySession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		switch r.URL.Path {
		case "/v1/checkout/sessions/cs_paid":
			fmt.Fprint(w, `{"id":"cs_paid","object":"checkout.session","status":"complete","payment_status":"paid","created":1714564800,
				"customer_details":{"email":"Buyer@Example.com"},"metadata":{"productType":"pdf-tools-premium"}}`)
		case "/v1/checkout/sessions/cs_open":
			fmt.Fprint(w, `{"id":"cs_open","object":"checkout.session","status":"open","payment_status":"unpaid","customer_email":"a@b.co"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`)
		}
	})

	v, err := c.VerifySession(context.Background(), "cs_paid")
	require.NoError(t, err)
	assert.True(t, v.Paid)
	assert.Equal(t, "Buyer@Example.com", v.Email)
	assert.Equal(t, entitlement.ProductPremium, v.ProductType)
	assert.Equal(t, int64(1714564800), v.PaidAt.Unix())

	v, err = c.VerifySession(context.Background(), "cs_open")
	require.NoError(t, err)
	assert.False(t, v.Paid)
	assert.Equal(t, "a@b.co", v.Email)

	_, err = c.VerifySession(context.Background(), "cs_gone")
	assert.ErrorIs(t, err, entitlement.ErrSessionNotFound)
	_, err = c.VerifySession(context.Background(), "../v1/customers")
	assert.ErrorIs(t, err, entitlement.ErrSessionNotFound)
}

func TestFindPaidSessionPages(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		calls++
		q := r.URL.Query()
		assert.Equal(t, "100", q.Get("limit"))
		assert.Equal(t, "complete", q.Get("status"))
		page := listPage{Object: "list", URL: "/v1/checkout/sessions"}
		if q.Get("starting_after") == "" {
			page.HasMore = true
			page.Data = []map[string]any{
				paidSession("cs_3", "someone@else.com", entitlement.ProductPremium, 1700000300),
				paidSession("cs_2", "buyer@example.com", "other", 1700000200),
			}
		} else {
			assert.Equal(t, "cs_2", q.Get("starting_after"))
			page.Data = []map[string]any{
				paidSession("cs_1", "BUYER@example.com", entitlement.ProductPremium, 1700000000),
			}
		}
		require.NoError(t, json.NewEncoder(w).Encode(page))
	})

	s, err := c.FindPaidSession(context.Background(), "buyer@example.com", entitlement.ProductPremium)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", s.SessionID)
	assert.Equal(t, int64(1700000000), s.PaidAt.Unix())
	assert.Equal(t, 2, calls)

	_, err = c.FindPaidSession(context.Background(), "nobody@example.com", entitlement.ProductPremium)
	assert.ErrorIs(t, err, entitlement.ErrNoPurchaseFound)
}

func TestFindPaidSessionStopsAfterPageCap(t *testing.T) {
	var calls, next int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		page := listPage{Object: "list", URL: "/v1/checkout/sessions", HasMore: true}
		for range listLimit {
			next++
			page.Data = append(page.Data, paidSession(fmt.Sprintf("cs_%d", next), "other@example.com", entitlement.ProductPremium, 1))
		}
		require.NoError(t, json.NewEncoder(w).Encode(page))
	})

	_, err := c.FindPaidSession(context.Background(), "buyer@example.com", entitlement.ProductPremium)
	assert.ErrorIs(t, err, entitlement.ErrNoPurchaseFound)
	assert.Equal(t, maxListPages, calls)
}

func TestCreateCheckout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkAuth(t, r)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "price_1", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "1", r.PostForm.Get("line_items[0][quantity]"))
		assert.Equal(t, "a@b.co", r.PostForm.Get("customer_email"))
		assert.Equal(t, entitlement.ProductPremium, r.PostForm.Get("metadata[productType]"))
		fmt.Fprint(w, `{"id":"cs_new","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_new"}`)
	})
	s, err := c.CreateCheckout(context.Background(), "a@b.co", entitlement.ProductPremium)
	require.NoError(t, err)
	assert.Equal(t, "cs_new", s.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_new", s.URL)
}

func TestCreateCheckoutNeedsPrice(t *testing.T) {
	c, err := New(Config{SecretKey: "sk_test_123"}, nil)
	require.NoError(t, err)
	_, err = c.CreateCheckout(context.Background(), "", entitlement.ProductPremium)
	assert.ErrorIs(t, err, entitlement.ErrCheckoutUnsupported)
}

func TestAPIErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`)
	})
	_, err := c.VerifySession(context.Background(), "cs_1")
	require.ErrorIs(t, err, entitlement.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "Invalid API Key provided")
}
