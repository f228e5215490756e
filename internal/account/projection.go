package account

import "time"

// PublicUser is the only shape of a user that ever crosses the service
// boundary. Every handler and service return path goes through
// Public() instead of ad hoc field stripping.
type PublicUser struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Photo      string     `json:"photo,omitempty"`
	Role       Role       `json:"role"`
	IsVerified bool       `json:"is_verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Public projects the user onto its caller-visible fields.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Photo:      u.Photo,
		Role:       u.Role,
		IsVerified: u.IsVerified,
		VerifiedAt: u.VerifiedAt,
		CreatedAt:  u.CreatedAt,
	}
}
