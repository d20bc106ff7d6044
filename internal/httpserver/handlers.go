package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tg-shop/internal/media"
	"tg-shop/internal/store"
)

// maxImportBytes caps uploaded archive size.
const maxImportBytes = 256 << 20

type api struct {
	store      *store.Store
	logger     *slog.Logger
	adminToken string
}

// requireAdmin checks the shared-secret token in the X-Admin-Token header or
// the token query parameter.
func (a *api) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminToken != "" {
			provided := r.Header.Get("X-Admin-Token")
			if provided == "" {
				provided = r.URL.Query().Get("token")
			}
			if provided != a.adminToken {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *api) listCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.store.ListCategories(r.Context())})
}

func (a *api) createCategory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	cat, err := a.store.CreateCategory(r.Context(), body.Name, body.Icon)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

func (a *api) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Name *string `json:"name"`
		Icon *string `json:"icon"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	cat, err := a.store.UpdateCategory(r.Context(), id, store.CategoryPatch{Name: body.Name, Icon: body.Icon})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (a *api) deleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.store.DeleteCategory(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *api) listProducts(w http.ResponseWriter, r *http.Request) {
	var categoryID *int64
	if raw := r.URL.Query().Get("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid category_id"})
			return
		}
		categoryID = &id
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.store.ListProducts(r.Context(), categoryID)})
}

type productBody struct {
	Name          *string  `json:"name"`
	Price         *float64 `json:"price"`
	CategoryID    *int64   `json:"category_id"`
	ClearCategory bool     `json:"clear_category"`
	Description   *string  `json:"description"`
	ImageURL      string   `json:"image_url"`
	RequireImage  bool     `json:"require_image"`
}

func (a *api) createProduct(w http.ResponseWriter, r *http.Request) {
	var body productBody
	if !decodeBody(w, r, &body) {
		return
	}
	input := store.ProductInput{
		CategoryID:   body.CategoryID,
		ImageSource:  body.ImageURL,
		RequireImage: body.RequireImage,
	}
	if body.Name != nil {
		input.Name = *body.Name
	}
	if body.Price != nil {
		input.Price = *body.Price
	}
	if body.Description != nil {
		input.Description = *body.Description
	}
	product, err := a.store.CreateProduct(r.Context(), input)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *api) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body productBody
	if !decodeBody(w, r, &body) {
		return
	}
	product, err := a.store.UpdateProduct(r.Context(), id, store.ProductPatch{
		Name:          body.Name,
		Price:         body.Price,
		CategoryID:    body.CategoryID,
		ClearCategory: body.ClearCategory,
		Description:   body.Description,
		ImageSource:   body.ImageURL,
		RequireImage:  body.RequireImage,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *api) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.store.DeleteProduct(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *api) addToCart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    int64 `json:"user_id"`
		ProductID int64 `json:"product_id"`
		Qty       int64 `json:"qty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Qty == 0 {
		body.Qty = 1
	}
	if err := a.store.AddToCart(r.Context(), body.UserID, body.ProductID, body.Qty); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *api) getCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	cart, err := a.store.GetCart(r.Context(), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (a *api) clearCart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64 `json:"user_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.store.ClearCart(r.Context(), body.UserID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *api) checkout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  int64  `json:"user_id"`
		Contact string `json:"contact"`
		Note    string `json:"note"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	entry, err := a.store.Checkout(r.Context(), body.UserID, body.Contact, body.Note)
	if err != nil {
		a.writeError(w, err)
		return
	}
	// The bot layer renders the admin notification from this entry alone.
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "order": entry})
}

func (a *api) recentLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, map[string]any{"items": a.store.RecentLogs(r.Context(), limit)})
}

func (a *api) listBans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.store.ListBans(r.Context())})
}

func (a *api) setBan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64  `json:"user_id"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.store.SetBan(r.Context(), body.UserID, body.Reason); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *api) unsetBan(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := a.store.UnsetBan(r.Context(), userID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *api) exportArchive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="shop-backup.zip"`)
	if err := a.store.ExportArchive(r.Context(), w); err != nil {
		// Headers are already out; the truncated body is the best we can do.
		a.logger.Error("archive export failed", "error", err)
	}
}

func (a *api) importArchive(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "archive too large or unreadable"})
		return
	}
	if err := a.store.ImportArchive(r.Context(), data); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeError translates store errors into client responses. Banned users get
// a uniform rejection regardless of the underlying operation.
func (a *api) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrBanned):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrEmptyCart), errors.Is(err, store.ErrInvalidArchive),
		errors.Is(err, media.ErrFetch), errors.Is(err, media.ErrInvalidImage):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		a.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + param})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}
