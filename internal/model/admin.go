package model

import "time"

// Admin represents an administrator record as stored in the `admins`
// table. Administrators are never created by a login flow; they are
// provisioned out of band with `clubctl admin bootstrap`.
//
// Fields:
//
//	ID           – primary key identifier of the admin.
//	Username     – unique login name.
//	Email        – unique email address; also used to route a Google
//	               login to this admin when it matches ADMIN_EMAIL.
//	PasswordHash – bcrypt hashed password, never serialised.
//	Name         – display name.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type Admin struct {
	ID           uint64    `json:"id"`         // admins.id
	Username     string    `json:"username"`   // admins.username
	Email        string    `json:"email"`      // admins.email
	PasswordHash string    `json:"-"`          // admins.password_hash
	Name         string    `json:"name"`       // admins.name
	CreatedAt    time.Time `json:"created_at"` // admins.created_at
	UpdatedAt    time.Time `json:"updated_at"` // admins.updated_at
}
