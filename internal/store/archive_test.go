package store

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMediaFile(t *testing.T, s *Store, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(s.MediaDir(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cat, err := s.CreateCategory(ctx, "Drinks", "🥤")
	require.NoError(t, err)
	p, err := s.CreateProduct(ctx, ProductInput{Name: "Cola", Price: 1.5, CategoryID: &cat.ID})
	require.NoError(t, err)
	require.NoError(t, s.AddToCart(ctx, 42, p.ID, 2))
	require.NoError(t, s.SetBan(ctx, 99, "spam"))
	writeMediaFile(t, s, "uploads/abc.jpg", []byte("jpeg-bytes"))

	var buf bytes.Buffer
	require.NoError(t, s.ExportArchive(ctx, &buf))

	categories := s.ListCategories(ctx)
	products := s.ListProducts(ctx, nil)

	// Diverge from the snapshot, then restore it.
	require.NoError(t, s.DeleteCategory(ctx, cat.ID))
	require.NoError(t, s.ClearCart(ctx, 42))
	require.NoError(t, s.UnsetBan(ctx, 99))
	require.NoError(t, os.Remove(filepath.Join(s.MediaDir(), "uploads", "abc.jpg")))

	require.NoError(t, s.ImportArchive(ctx, buf.Bytes()))

	assert.Equal(t, categories, s.ListCategories(ctx))
	assert.Equal(t, products, s.ListProducts(ctx, nil))
	assert.True(t, s.IsBanned(ctx, 99))

	cart, err := s.GetCart(ctx, 42)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int64(2), cart.Lines[0].Qty)

	restored, err := os.ReadFile(filepath.Join(s.MediaDir(), "uploads", "abc.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), restored)

	// The store keeps working against the swapped-in tree.
	_, err = s.CreateCategory(ctx, "Snacks", "")
	require.NoError(t, err)
}

func TestExportSkipsInFlightTempFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	writeMediaFile(t, s, "uploads/abc.jpg", []byte("jpeg-bytes"))
	// An ingestion in progress leaves a .tmp alongside until its rename.
	writeMediaFile(t, s, "uploads/def.jpg.tmp", []byte("half-encoded"))

	var buf bytes.Buffer
	require.NoError(t, s.ExportArchive(ctx, &buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "media/uploads/abc.jpg")
	for _, name := range names {
		assert.False(t, strings.HasSuffix(name, ".tmp"), "snapshot must not carry in-flight file %s", name)
	}
}

func TestImportedIDsContinuePastSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cat, err := s.CreateCategory(ctx, "Drinks", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.ExportArchive(ctx, &buf))
	require.NoError(t, s.ImportArchive(ctx, buf.Bytes()))

	next, err := s.CreateCategory(ctx, "Snacks", "")
	require.NoError(t, err)
	assert.Greater(t, next.ID, cat.ID)
}

func buildArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func minimalCollections() map[string][]byte {
	return map[string][]byte{
		"data/categories.json": []byte("[]"),
		"data/products.json":   []byte("[]"),
		"data/carts.json":      []byte("{}"),
		"data/bans.json":       []byte("[]"),
		"data/logs.json":       []byte("[]"),
	}
}

func TestImportRejectsMalformedArchive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.ImportArchive(ctx, []byte("definitely not a zip"))
	require.ErrorIs(t, err, ErrInvalidArchive)
}

func TestImportRejectsMissingCollections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	cat, err := s.CreateCategory(ctx, "Drinks", "")
	require.NoError(t, err)

	entries := minimalCollections()
	delete(entries, "data/products.json")

	err = s.ImportArchive(ctx, buildArchive(t, entries))
	require.ErrorIs(t, err, ErrInvalidArchive)

	// Prior state must be untouched.
	got, err := s.GetCategory(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Drinks", got.Name)
}

func TestImportRejectsMalformedCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entries := minimalCollections()
	entries["data/products.json"] = []byte("{not json")

	err := s.ImportArchive(ctx, buildArchive(t, entries))
	require.ErrorIs(t, err, ErrInvalidArchive)
}

func TestImportRejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entries := minimalCollections()
	entries["media/../../evil.txt"] = []byte("boom")

	err := s.ImportArchive(ctx, buildArchive(t, entries))
	require.ErrorIs(t, err, ErrInvalidArchive)

	parent := filepath.Dir(s.dir)
	_, statErr := os.Stat(filepath.Join(parent, "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestImportReplacesExistingState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreateCategory(ctx, "Old", "")
	require.NoError(t, err)

	entries := minimalCollections()
	entries["data/categories.json"] = []byte(`[{"id": 5, "name": "Imported"}]`)

	require.NoError(t, s.ImportArchive(ctx, buildArchive(t, entries)))

	cats := s.ListCategories(ctx)
	require.Len(t, cats, 1)
	assert.Equal(t, int64(5), cats[0].ID)
	assert.Equal(t, "Imported", cats[0].Name)

	// Replacement is all-or-nothing: the old category is gone everywhere.
	_, err = s.GetCategory(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)
}
