package models

// User is a participant account. UserKey is the secret credential handed out
// at provisioning time; UserID is the public identifier other users see.
type User struct {
	UserID   string  `json:"user_id"`
	UserKey  string  `json:"user_key"`
	Username *string `json:"username"`
	IsAdmin  bool    `json:"is_admin"`
	Esh      int64   `json:"esh"`
}

// Name returns the claimed username, or the empty string if none is set.
func (u *User) Name() string {
	if u.Username == nil {
		return ""
	}
	return *u.Username
}
