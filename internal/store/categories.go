package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
)

// CategoryPatch carries optional field updates; nil fields are left unchanged.
// Setting Icon to an empty string clears it.
type CategoryPatch struct {
	Name *string
	Icon *string
}

// CreateCategory allocates the next category id and persists the new record.
func (s *Store) CreateCategory(ctx context.Context, name, icon string) (Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: category name is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq.Category++
	cat := Category{ID: s.seq.Category, Name: name}
	if icon = strings.TrimSpace(icon); icon != "" {
		cat.Icon = &icon
	}

	// The mark hits disk before the record does. A crash in between leaves
	// an id gap, never a reused id.
	if err := s.saveSeqLocked(); err != nil {
		s.seq.Category--
		s.opErr("category_create")
		return Category{}, err
	}

	next := append(slices.Clone(s.categories), cat)
	if err := s.saveJSONLocked(categoriesFile, next); err != nil {
		s.seq.Category--
		s.opErr("category_create")
		return Category{}, err
	}
	s.categories = next
	s.logEventLocked(KindCrudCreate, nil, map[string]any{"entity": "category", "category": cat})
	s.opOK("category_create")
	return cat.clone(), nil
}

// ListCategories returns all categories ordered by id.
func (s *Store) ListCategories(ctx context.Context) []Category {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c.clone())
	}
	slices.SortFunc(out, func(a, b Category) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// GetCategory returns the category with the given id.
func (s *Store) GetCategory(ctx context.Context, id int64) (Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.categories, func(c Category) bool { return c.ID == id })
	if idx < 0 {
		return Category{}, fmt.Errorf("%w: category %d", ErrNotFound, id)
	}
	return s.categories[idx].clone(), nil
}

// UpdateCategory applies the patch to an existing category.
func (s *Store) UpdateCategory(ctx context.Context, id int64, patch CategoryPatch) (Category, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return Category{}, fmt.Errorf("%w: category name is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.categories, func(c Category) bool { return c.ID == id })
	if idx < 0 {
		return Category{}, fmt.Errorf("%w: category %d", ErrNotFound, id)
	}

	cat := s.categories[idx]
	if patch.Name != nil {
		cat.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Icon != nil {
		if icon := strings.TrimSpace(*patch.Icon); icon == "" {
			cat.Icon = nil
		} else {
			cat.Icon = &icon
		}
	}

	next := slices.Clone(s.categories)
	next[idx] = cat
	if err := s.saveJSONLocked(categoriesFile, next); err != nil {
		s.opErr("category_update")
		return Category{}, err
	}
	s.categories = next
	s.logEventLocked(KindCrudUpdate, nil, map[string]any{"entity": "category", "category": cat})
	s.opOK("category_update")
	return cat.clone(), nil
}

// DeleteCategory removes the category and detaches its products rather than
// cascading, so no product data is lost.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.categories, func(c Category) bool { return c.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: category %d", ErrNotFound, id)
	}

	nextCategories := slices.Delete(slices.Clone(s.categories), idx, idx+1)

	nextProducts := slices.Clone(s.products)
	detached := 0
	for i, p := range nextProducts {
		if p.CategoryID != nil && *p.CategoryID == id {
			nextProducts[i].CategoryID = nil
			detached++
		}
	}

	if err := s.saveJSONLocked(categoriesFile, nextCategories); err != nil {
		s.opErr("category_delete")
		return err
	}
	if detached > 0 {
		if err := s.saveJSONLocked(productsFile, nextProducts); err != nil {
			// Roll the category file back so disk and memory stay aligned.
			if rbErr := s.saveJSONLocked(categoriesFile, s.categories); rbErr != nil {
				s.logger.Error("rollback of category delete failed", "error", rbErr)
			}
			s.opErr("category_delete")
			return err
		}
	}

	s.categories = nextCategories
	s.products = nextProducts
	s.logEventLocked(KindCrudDelete, nil, map[string]any{
		"entity":            "category",
		"id":                id,
		"detached_products": detached,
	})
	s.opOK("category_delete")
	return nil
}

func (s *Store) categoryExistsLocked(id int64) bool {
	return slices.ContainsFunc(s.categories, func(c Category) bool { return c.ID == id })
}
