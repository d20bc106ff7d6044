package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"
)

// SetBan blocks the user from shop-facing operations. Banning an already
// banned user updates the reason and keeps the original timestamp.
func (s *Store) SetBan(ctx context.Context, userID int64, reason string) error {
	reason = strings.TrimSpace(reason)

	s.mu.Lock()
	defer s.mu.Unlock()

	ban, existed := s.bans[userID]
	if existed && ban.Reason == reason {
		return nil
	}
	if !existed {
		ban = Ban{UserID: userID, CreatedAt: time.Now().UTC()}
	}
	ban.Reason = reason

	prev := s.bans[userID]
	s.bans[userID] = ban
	if err := s.saveBansLocked(); err != nil {
		if existed {
			s.bans[userID] = prev
		} else {
			delete(s.bans, userID)
		}
		s.opErr("ban_set")
		return err
	}

	s.logEventLocked(KindBanSet, nil, map[string]any{"user_id": userID, "reason": reason})
	s.opOK("ban_set")
	return nil
}

// UnsetBan lifts the user's ban. Unbanning an unbanned user is a no-op.
func (s *Store) UnsetBan(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.bans[userID]
	if !existed {
		return nil
	}

	delete(s.bans, userID)
	if err := s.saveBansLocked(); err != nil {
		s.bans[userID] = prev
		s.opErr("ban_unset")
		return err
	}

	s.logEventLocked(KindBanUnset, nil, map[string]any{"user_id": userID})
	s.opOK("ban_unset")
	return nil
}

// IsBanned reports whether the user is currently banned.
func (s *Store) IsBanned(ctx context.Context, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, banned := s.bans[userID]
	return banned
}

// ListBans returns all bans ordered by user id.
func (s *Store) ListBans(ctx context.Context) []Ban {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bansToDisk(s.bans)
}

func sortBansByUser(bans []Ban) {
	slices.SortFunc(bans, func(a, b Ban) int { return cmp.Compare(a.UserID, b.UserID) })
}
