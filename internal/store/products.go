package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
)

// ProductInput carries the fields for creating a product. ImageSource, when
// set, is fetched through the injected Ingestor; ingestion failure degrades
// the product to imageless unless RequireImage is set.
type ProductInput struct {
	Name         string
	Price        float64
	CategoryID   *int64
	Description  string
	ImageSource  string
	RequireImage bool
}

// ProductPatch carries optional field updates; nil fields are left unchanged.
// ClearCategory detaches the product regardless of CategoryID.
type ProductPatch struct {
	Name          *string
	Price         *float64
	CategoryID    *int64
	ClearCategory bool
	Description   *string
	ImageSource   string
	RequireImage  bool
}

// CreateProduct validates the input, optionally ingests the product image and
// persists the new record.
func (s *Store) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrValidation)
	}
	if input.Price < 0 {
		return Product{}, fmt.Errorf("%w: price must be non-negative", ErrValidation)
	}
	if input.CategoryID != nil && !s.categoryExists(*input.CategoryID) {
		return Product{}, fmt.Errorf("%w: category %d does not exist", ErrValidation, *input.CategoryID)
	}

	// The network fetch runs outside the critical section; only the final
	// record write is serialised.
	imagePath, thumbPath, err := s.ingestImage(ctx, input.ImageSource, input.RequireImage)
	if err != nil {
		s.opErr("product_create")
		return Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The category may have been deleted while the image was downloading.
	if input.CategoryID != nil && !s.categoryExistsLocked(*input.CategoryID) {
		s.opErr("product_create")
		return Product{}, fmt.Errorf("%w: category %d does not exist", ErrValidation, *input.CategoryID)
	}

	s.seq.Product++
	p := Product{
		ID:          s.seq.Product,
		CategoryID:  clonePtr(input.CategoryID),
		Name:        name,
		Price:       input.Price,
		Description: strings.TrimSpace(input.Description),
		ImagePath:   imagePath,
		ThumbPath:   thumbPath,
	}

	// The mark hits disk before the record does. A crash in between leaves
	// an id gap, never a reused id.
	if err := s.saveSeqLocked(); err != nil {
		s.seq.Product--
		s.opErr("product_create")
		return Product{}, err
	}

	next := append(slices.Clone(s.products), p)
	if err := s.saveJSONLocked(productsFile, next); err != nil {
		s.seq.Product--
		s.opErr("product_create")
		return Product{}, err
	}
	s.products = next
	s.logEventLocked(KindCrudCreate, nil, map[string]any{"entity": "product", "product": p})
	s.opOK("product_create")
	return p.clone(), nil
}

// ListProducts returns products ordered by id, optionally filtered by
// category.
func (s *Store) ListProducts(ctx context.Context, categoryID *int64) []Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if categoryID != nil && (p.CategoryID == nil || *p.CategoryID != *categoryID) {
			continue
		}
		out = append(out, p.clone())
	}
	slices.SortFunc(out, func(a, b Product) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// GetProduct returns the product with the given id.
func (s *Store) GetProduct(ctx context.Context, id int64) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getProductLocked(id)
}

func (s *Store) getProductLocked(id int64) (Product, error) {
	idx := slices.IndexFunc(s.products, func(p Product) bool { return p.ID == id })
	if idx < 0 {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return s.products[idx].clone(), nil
}

// UpdateProduct applies the patch to an existing product, re-ingesting the
// image when a new source is supplied.
func (s *Store) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (Product, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrValidation)
	}
	if patch.Price != nil && *patch.Price < 0 {
		return Product{}, fmt.Errorf("%w: price must be non-negative", ErrValidation)
	}
	if patch.CategoryID != nil && !s.categoryExists(*patch.CategoryID) {
		return Product{}, fmt.Errorf("%w: category %d does not exist", ErrValidation, *patch.CategoryID)
	}

	imagePath, thumbPath, err := s.ingestImage(ctx, patch.ImageSource, patch.RequireImage)
	if err != nil {
		s.opErr("product_update")
		return Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.products, func(p Product) bool { return p.ID == id })
	if idx < 0 {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}

	p := s.products[idx]
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.ClearCategory {
		p.CategoryID = nil
	} else if patch.CategoryID != nil {
		if !s.categoryExistsLocked(*patch.CategoryID) {
			s.opErr("product_update")
			return Product{}, fmt.Errorf("%w: category %d does not exist", ErrValidation, *patch.CategoryID)
		}
		p.CategoryID = clonePtr(patch.CategoryID)
	}
	if patch.Description != nil {
		p.Description = strings.TrimSpace(*patch.Description)
	}
	if imagePath != "" {
		p.ImagePath = imagePath
		p.ThumbPath = thumbPath
	}

	next := slices.Clone(s.products)
	next[idx] = p
	if err := s.saveJSONLocked(productsFile, next); err != nil {
		s.opErr("product_update")
		return Product{}, err
	}
	s.products = next
	s.logEventLocked(KindCrudUpdate, nil, map[string]any{"entity": "product", "product": p})
	s.opOK("product_update")
	return p.clone(), nil
}

// DeleteProduct removes the product record. Media files it referenced are
// left in place for a maintenance sweep; cart lines pointing at the product
// are dropped lazily at read time.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.products, func(p Product) bool { return p.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, id)
	}

	next := slices.Delete(slices.Clone(s.products), idx, idx+1)
	if err := s.saveJSONLocked(productsFile, next); err != nil {
		s.opErr("product_delete")
		return err
	}
	s.products = next
	s.logEventLocked(KindCrudDelete, nil, map[string]any{"entity": "product", "id": id})
	s.opOK("product_delete")
	return nil
}

func (s *Store) categoryExists(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.categoryExistsLocked(id)
}

// ingestImage delegates to the configured ingestor. A missing image is a
// degraded but usable product, so failures are swallowed with a warning
// unless the caller mandated an image, in which case the ingestion error
// propagates unchanged.
func (s *Store) ingestImage(ctx context.Context, source string, required bool) (imagePath, thumbPath string, err error) {
	source = strings.TrimSpace(source)
	if source == "" || s.ingest == nil {
		return "", "", nil
	}
	imagePath, thumbPath, err = s.ingest.Ingest(ctx, source)
	if err != nil {
		if required {
			return "", "", err
		}
		s.logger.Warn("image ingestion failed", "source", source, "error", err)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("store").Inc()
		}
		return "", "", nil
	}
	return imagePath, thumbPath, nil
}
