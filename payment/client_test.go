package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfstudio/entitlement"
)

func bridge(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestVerifySession(t *testing.T) {
	paidAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := bridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathVerify, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.SessionID {
		case "cs_paid":
			writeJSON(w, http.StatusOK, VerifyResponse{Paid: true, Email: "a@b.co", ProductType: entitlement.ProductPremium, PaidAt: paidAt})
		case "cs_open":
			writeJSON(w, http.StatusOK, VerifyResponse{Paid: false})
		default:
			writeJSON(w, http.StatusNotFound, ErrorBody{Error: ErrorDetail{Code: CodeNotFound, Message: "no such session"}})
		}
	})

	v, err := c.VerifySession(context.Background(), "cs_paid")
	require.NoError(t, err)
	assert.True(t, v.Paid)
	assert.Equal(t, "cs_paid", v.SessionID)
	assert.Equal(t, "a@b.co", v.Email)
	assert.True(t, paidAt.Equal(v.PaidAt))

	v, err = c.VerifySession(context.Background(), "cs_open")
	require.NoError(t, err)
	assert.False(t, v.Paid)

	_, err = c.VerifySession(context.Background(), "cs_missing")
	assert.ErrorIs(t, err, entitlement.ErrSessionNotFound)
}

func TestFindPaidSession(t *testing.T) {
	c := bridge(t, func(w http.ResponseWriter, r *http.Request) {
		var req RecoverRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, entitlement.ProductPremium, req.ProductType)
		if req.Email == "buyer@example.com" {
			writeJSON(w, http.StatusOK, RecoverResponse{Found: true, SessionID: "cs_1", Email: req.Email})
			return
		}
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: ErrorDetail{Code: CodeNotFound, Message: "no purchase"}})
	})

	s, err := c.FindPaidSession(context.Background(), "buyer@example.com", entitlement.ProductPremium)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", s.SessionID)

	_, err = c.FindPaidSession(context.Background(), "other@example.com", entitlement.ProductPremium)
	assert.ErrorIs(t, err, entitlement.ErrNoPurchaseFound)
}

func TestCreateCheckout(t *testing.T) {
	c := bridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathCheckout, r.URL.Path)
		writeJSON(w, http.StatusOK, CheckoutResponse{SessionID: "cs_new", URL: "https://pay.example/cs_new"})
	})
	s, err := c.CreateCheckout(context.Background(), "a@b.co", entitlement.ProductPremium)
	require.NoError(t, err)
	assert.Equal(t, entitlement.CheckoutSession{ID: "cs_new", URL: "https://pay.example/cs_new"}, s)
}

func TestBridgeFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		c := bridge(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, ErrorBody{Error: ErrorDetail{Code: CodeUnavailable, Message: "stripe down"}})
		})
		_, err := c.VerifySession(context.Background(), "cs_1")
		require.ErrorIs(t, err, entitlement.ErrProviderUnavailable)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadGateway, se.Code)
		assert.Equal(t, "stripe down", se.Message)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		c := bridge(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)
		WithTimeout(50 * time.Millisecond)(c)
		_, err := c.VerifySession(context.Background(), "cs_1")
		assert.ErrorIs(t, err, entitlement.ErrProviderUnavailable)
	})

	t.Run("bad json", func(t *testing.T) {
		c := bridge(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("{"))
		})
		_, err := c.VerifySession(context.Background(), "cs_1")
		assert.ErrorIs(t, err, entitlement.ErrProviderUnavailable)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		_, err := NewClient(srv.URL).FindPaidSession(context.Background(), "a@b.co", "")
		assert.ErrorIs(t, err, entitlement.ErrProviderUnavailable)
	})

	t.Run("unpaid code", func(t *testing.T) {
		c := bridge(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusPaymentRequired, ErrorBody{Error: ErrorDetail{Code: CodeUnpaid, Message: "open"}})
		})
		_, err := c.VerifySession(context.Background(), "cs_1")
		assert.ErrorIs(t, err, entitlement.ErrPaymentNotCompleted)
	})
}

func TestClientDrivesService(t *testing.T) {
	c := bridge(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VerifyResponse{Paid: true, Email: "a@b.co", ProductType: entitlement.ProductPremium})
	})
	svc, err := entitlement.NewService(c, entitlement.WithStore(&entitlement.MemoryStore{}))
	require.NoError(t, err)
	lic, err := svc.VerifyPayment(context.Background(), "cs_paid")
	require.NoError(t, err)
	assert.True(t, lic.Active)
	assert.Equal(t, 6, svc.SlotMax())
}
