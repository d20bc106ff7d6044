package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-shop/internal/store"
)

const testToken = "test-admin-token"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(store.Config{Dir: t.TempDir()}, logger, nil)
	require.NoError(t, err)

	srv := New(Config{Addr: ":0", AdminToken: testToken}, st, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any, admin bool) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Token", testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/categories", map[string]string{"name": "Drinks"}, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/admin/logs", nil, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Token may also be supplied as a query parameter.
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/admin/logs?token="+testToken, nil, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStorefrontFlow(t *testing.T) {
	ts := newTestServer(t)

	var cat store.Category
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/categories", map[string]any{"name": "Drinks"}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &cat)

	var product store.Product
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/products", map[string]any{
		"name":        "Cola",
		"price":       1.5,
		"category_id": cat.ID,
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &product)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/cart/add", map[string]any{
		"user_id":    42,
		"product_id": product.ID,
		"qty":        2,
	}, false)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cart store.Cart
	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/cart/%d", ts.URL, 42), nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &cart)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int64(2), cart.Lines[0].Qty)
	assert.InDelta(t, 3.0, cart.Total, 1e-9)

	var checkout struct {
		OK    bool           `json:"ok"`
		Order store.LogEntry `json:"order"`
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/cart/checkout", map[string]any{
		"user_id": 42,
		"contact": "@buyer",
	}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &checkout)
	assert.True(t, checkout.OK)
	assert.Equal(t, store.KindCheckout, checkout.Order.Kind)
	assert.InDelta(t, 3.0, checkout.Order.Payload["total"].(float64), 1e-9)

	// The cart is now empty, so a second checkout must fail.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/cart/checkout", map[string]any{"user_id": 42}, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBannedUserGetsUniformRejection(t *testing.T) {
	ts := newTestServer(t)

	var product store.Product
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/products", map[string]any{"name": "Cola", "price": 1.5}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &product)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/admin/bans", map[string]any{"user_id": 99, "reason": "spam"}, true)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/cart/add", map[string]any{
		"user_id":    99,
		"product_id": product.ID,
		"qty":        1,
	}, false)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "access denied", body["error"])

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/admin/bans/99", nil, true)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/cart/add", map[string]any{
		"user_id":    99,
		"product_id": product.ID,
		"qty":        1,
	}, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestValidationAndNotFoundMapping(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/categories", map[string]any{"name": ""}, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/categories/999", nil, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/cart/add", map[string]any{
		"user_id":    1,
		"product_id": 12345,
	}, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestArchiveExportImportEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/categories", map[string]any{"name": "Drinks"}, true)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/admin/export", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	archive, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.NotEmpty(t, archive)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/import", bytes.NewReader(archive))
	require.NoError(t, err)
	req.Header.Set("X-Admin-Token", testToken)
	req.Header.Set("Content-Type", "application/zip")
	importResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	importResp.Body.Close()
	assert.Equal(t, http.StatusOK, importResp.StatusCode)

	var listing struct {
		Items []store.Category `json:"items"`
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/categories", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &listing)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, "Drinks", listing.Items[0].Name)
}
