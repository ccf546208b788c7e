package models

// User is the read-only view of a platform account.
type User struct {
	ID          int64  `db:"id" json:"id"`
	Username    string `db:"username" json:"username"`
	DisplayName string `db:"display_name" json:"display_name"`
	Email       string `db:"email" json:"-"`
	IsStaff     bool   `db:"is_staff" json:"-"`
	IsPremium   bool   `db:"is_premium" json:"-"`
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
