package domain

import "time"

// User is the stable identity record created on first successful OAuth
// exchange for a new GitHub account. Never deleted by this subsystem.
type User struct {
	ID        string
	GithubID  string // provider account id, unique
	Name      string
	Email     string
	Image     string // avatar URL, may be empty
	CreatedAt time.Time
}
