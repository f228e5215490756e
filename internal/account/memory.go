package account

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests. Semantics mirror
// the Postgres implementation, including the conditional writes.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*User
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (s *MemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	if cp.VerificationEmail.Status == "" {
		cp.VerificationEmail.Status = EmailPending
	}
	if cp.ReminderEmail.Status == "" {
		cp.ReminderEmail.Status = EmailPending
	}
	s.users[cp.ID] = &cp
	return nil
}

// project copies the stored record, stripping hidden fields unless
// requested. Callers always get a private copy.
func project(u *User, hidden bool) *User {
	cp := *u
	cp.RefreshTokens = append([]string(nil), u.RefreshTokens...)
	if !hidden {
		cp.PasswordHash = ""
		cp.ChangedPasswordAt = nil
		cp.VerifyTokenHash = ""
		cp.VerifyTokenExpires = nil
		cp.ResetTokenHash = ""
		cp.ResetTokenExpires = nil
		cp.RefreshTokens = nil
		cp.State = ""
		cp.SignupAt = nil
		cp.LoginAt = nil
		cp.LogoutAt = nil
		cp.DeletedAt = nil
		cp.VerificationEmail = Notification{}
		cp.ReminderEmail = Notification{}
	}
	return &cp
}

func (s *MemoryStore) find(match func(*User) bool) (*User, bool) {
	for _, u := range s.users {
		if match(u) {
			return u, true
		}
	}
	return nil, false
}

func (s *MemoryStore) FindByID(_ context.Context, id string, hidden bool) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return project(u, hidden), nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string, hidden bool) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.find(func(u *User) bool { return u.Email == email })
	if !ok {
		return nil, ErrNotFound
	}
	return project(u, hidden), nil
}

func (s *MemoryStore) FindByVerifyTokenHash(_ context.Context, hash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.find(func(u *User) bool { return u.VerifyTokenHash == hash && hash != "" })
	if !ok {
		return nil, ErrNotFound
	}
	return project(u, true), nil
}

func (s *MemoryStore) FindByResetTokenHash(_ context.Context, hash string, now time.Time) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.find(func(u *User) bool {
		return hash != "" && u.ResetTokenHash == hash &&
			u.ResetTokenExpires != nil && u.ResetTokenExpires.After(now)
	})
	if !ok {
		return nil, ErrNotFound
	}
	return project(u, true), nil
}

// update runs fn on the stored record under the lock.
func (s *MemoryStore) update(id string, fn func(*User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetVerifyToken(_ context.Context, id, hash string, expires time.Time) error {
	return s.update(id, func(u *User) error {
		u.VerifyTokenHash = hash
		exp := expires
		u.VerifyTokenExpires = &exp
		return nil
	})
}

func (s *MemoryStore) ClearVerifyToken(_ context.Context, id string) error {
	return s.update(id, func(u *User) error {
		u.VerifyTokenHash = ""
		u.VerifyTokenExpires = nil
		return nil
	})
}

func (s *MemoryStore) MarkVerified(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(u *User) error {
		if u.IsVerified {
			return ErrAlreadyVerified
		}
		u.IsVerified = true
		t := at
		u.VerifiedAt = &t
		return nil
	})
}

func (s *MemoryStore) SetResetToken(_ context.Context, id, hash string, expires time.Time) error {
	return s.update(id, func(u *User) error {
		u.ResetTokenHash = hash
		exp := expires
		u.ResetTokenExpires = &exp
		return nil
	})
}

func (s *MemoryStore) ClearResetToken(_ context.Context, id string) error {
	return s.update(id, func(u *User) error {
		u.ResetTokenHash = ""
		u.ResetTokenExpires = nil
		return nil
	})
}

func (s *MemoryStore) UpdatePassword(_ context.Context, id, passwordHash string, changedAt time.Time) error {
	return s.update(id, func(u *User) error {
		u.PasswordHash = passwordHash
		t := changedAt
		u.ChangedPasswordAt = &t
		u.ResetTokenHash = ""
		u.ResetTokenExpires = nil
		u.RefreshTokens = nil
		return nil
	})
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id, name, photo string) (*User, error) {
	err := s.update(id, func(u *User) error {
		u.Name = name
		u.Photo = photo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id, false)
}

func (s *MemoryStore) AppendRefreshToken(_ context.Context, id, token string) error {
	return s.update(id, func(u *User) error {
		for _, t := range u.RefreshTokens {
			if t == token {
				return nil
			}
		}
		u.RefreshTokens = append(u.RefreshTokens, token)
		return nil
	})
}

func (s *MemoryStore) RotateRefreshToken(_ context.Context, id, oldToken, newToken string) error {
	return s.update(id, func(u *User) error {
		for i, t := range u.RefreshTokens {
			if t == oldToken {
				u.RefreshTokens[i] = newToken
				return nil
			}
		}
		return ErrTokenNotFound
	})
}

func (s *MemoryStore) ClearRefreshTokens(_ context.Context, id string) error {
	return s.update(id, func(u *User) error {
		u.RefreshTokens = nil
		return nil
	})
}

func (s *MemoryStore) MarkLogin(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(u *User) error {
		t := at
		u.LoginAt = &t
		return nil
	})
}

func (s *MemoryStore) MarkLogout(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(u *User) error {
		t := at
		u.LogoutAt = &t
		u.RefreshTokens = nil
		return nil
	})
}

func (s *MemoryStore) SoftDelete(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(u *User) error {
		if u.State == StateDeleted {
			return ErrNotFound
		}
		u.State = StateInactive
		t := at
		u.DeletedAt = &t
		u.LogoutAt = &t
		u.RefreshTokens = nil
		return nil
	})
}

func (s *MemoryStore) SoftDeleteByEmail(ctx context.Context, email string, at time.Time) (*User, error) {
	s.mu.Lock()
	u, ok := s.find(func(u *User) bool { return u.Email == email })
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if err := s.SoftDelete(ctx, u.ID, at); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, u.ID, true)
}

func (s *MemoryStore) Reactivate(_ context.Context, id string) error {
	return s.update(id, func(u *User) error {
		if u.State != StateInactive {
			return ErrInvalidState
		}
		u.State = StateActive
		u.DeletedAt = nil
		return nil
	})
}

func (s *MemoryStore) SetNotification(_ context.Context, id string, kind NotificationKind, status EmailStatus, sentAt *time.Time) error {
	return s.update(id, func(u *User) error {
		n := Notification{Status: status}
		if sentAt != nil {
			t := *sentAt
			n.SentAt = &t
		}
		switch kind {
		case NotificationVerification:
			u.VerificationEmail = n
		case NotificationReminder:
			u.ReminderEmail = n
		}
		return nil
	})
}

func (s *MemoryStore) ResetNotifications(_ context.Context, id string) error {
	return s.update(id, func(u *User) error {
		u.VerificationEmail = Notification{Status: EmailPending}
		u.ReminderEmail = Notification{Status: EmailPending}
		return nil
	})
}

func (s *MemoryStore) Scrub(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(u *User) error {
		if u.State == StateDeleted {
			return ErrNotFound
		}
		u.Name = "Deleted user"
		u.Email = "deleted+" + u.ID + "@invalid.invalid"
		u.Photo = ""
		u.PasswordHash = ""
		u.VerifyTokenHash = ""
		u.VerifyTokenExpires = nil
		u.ResetTokenHash = ""
		u.ResetTokenExpires = nil
		u.RefreshTokens = nil
		u.State = StateDeleted
		t := at
		u.DeletedAt = &t
		return nil
	})
}

// SetRole overwrites the stored role. Test helper; no service
// operation changes roles, ops do it directly in the database.
func (s *MemoryStore) SetRole(id string, role Role) error {
	return s.update(id, func(u *User) error {
		u.Role = role
		return nil
	})
}

func (s *MemoryStore) Purge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	return nil
}
