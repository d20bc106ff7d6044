package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// AddToCart merges qty into the user's existing line for the product, or
// creates the line. Quantities always sum; a user never holds two lines for
// the same product.
func (s *Store) AddToCart(ctx context.Context, userID, productID, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: qty must be positive", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, banned := s.bans[userID]; banned {
		return fmt.Errorf("%w: user %d", ErrBanned, userID)
	}
	if _, err := s.getProductLocked(productID); err != nil {
		return err
	}

	cart, existed := s.carts[userID]
	if !existed {
		cart = make(map[int64]int64)
		s.carts[userID] = cart
	}
	prevQty, hadLine := cart[productID]
	cart[productID] = prevQty + qty

	if err := s.saveCartsLocked(); err != nil {
		if hadLine {
			cart[productID] = prevQty
		} else {
			delete(cart, productID)
		}
		if !existed {
			delete(s.carts, userID)
		}
		s.opErr("cart_add")
		return err
	}

	s.logEventLocked(KindCartAdd, &userID, map[string]any{"product_id": productID, "qty": qty})
	s.opOK("cart_add")
	return nil
}

// GetCart resolves the user's cart against the current catalog. Lines whose
// product no longer exists are skipped; the total reflects current prices.
func (s *Store) GetCart(ctx context.Context, userID int64) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, banned := s.bans[userID]; banned {
		return Cart{}, fmt.Errorf("%w: user %d", ErrBanned, userID)
	}
	lines, total := s.resolveCartLocked(userID)
	return Cart{Lines: lines, Total: total}, nil
}

// ClearCart empties the user's cart. Clearing an already-empty cart is a
// no-op and is not logged.
func (s *Store) ClearCart(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, banned := s.bans[userID]; banned {
		return fmt.Errorf("%w: user %d", ErrBanned, userID)
	}

	prev, existed := s.carts[userID]
	if !existed || len(prev) == 0 {
		return nil
	}

	delete(s.carts, userID)
	if err := s.saveCartsLocked(); err != nil {
		s.carts[userID] = prev
		s.opErr("cart_clear")
		return err
	}

	s.logEventLocked(KindCartClear, &userID, nil)
	s.opOK("cart_clear")
	return nil
}

// Checkout converts the user's cart into a checkout log entry carrying a full
// line and price snapshot, then clears the cart. Read and clear happen inside
// a single critical section so no caller can observe a half-finished
// checkout. The returned entry holds everything the bot layer needs for the
// admin notification.
func (s *Store) Checkout(ctx context.Context, userID int64, contact, note string) (LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, banned := s.bans[userID]; banned {
		return LogEntry{}, fmt.Errorf("%w: user %d", ErrBanned, userID)
	}

	lines, total := s.resolveCartLocked(userID)
	if len(lines) == 0 {
		s.opErr("checkout")
		return LogEntry{}, fmt.Errorf("%w: user %d", ErrEmptyCart, userID)
	}

	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, OrderItem{
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Price:     line.Product.Price,
			Qty:       line.Qty,
			Subtotal:  line.Subtotal,
		})
	}

	prev := s.carts[userID]
	delete(s.carts, userID)
	if err := s.saveCartsLocked(); err != nil {
		s.carts[userID] = prev
		s.opErr("checkout")
		return LogEntry{}, err
	}

	entry := s.logEventLocked(KindCheckout, &userID, map[string]any{
		"order_ref": uuid.NewString(),
		"contact":   contact,
		"note":      note,
		"items":     items,
		"total":     total,
	})
	s.opOK("checkout")
	return entry, nil
}

// resolveCartLocked builds the line view for a cart, sorted by product id.
func (s *Store) resolveCartLocked(userID int64) ([]CartLine, float64) {
	cart := s.carts[userID]
	lines := make([]CartLine, 0, len(cart))
	total := 0.0
	for pid, qty := range cart {
		product, err := s.getProductLocked(pid)
		if err != nil {
			continue
		}
		subtotal := product.Price * float64(qty)
		total += subtotal
		lines = append(lines, CartLine{Product: product, Qty: qty, Subtotal: subtotal})
	}
	slices.SortFunc(lines, func(a, b CartLine) int { return cmp.Compare(a.Product.ID, b.Product.ID) })
	return lines, total
}
