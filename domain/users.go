package domain

import "fmt"

// User is a local account or the shadow copy of a foreign actor.
// Host is empty for local users.
type User struct {
	GlobalId     int64
	Handle       string
	Host         string
	DisplayName  string
	Bio          string
	Password     string
	PublicKey    string
	PrivateKey   string
	Private      bool
	PostTitleCss string
	PostBodyCss  string
}

func (u *User) IsLocal() bool {
	return u.Host == ""
}

// Address renders handle@host, or the bare handle for local users.
func (u *User) Address() string {
	if u.IsLocal() {
		return u.Handle
	}
	return fmt.Sprintf("%s@%s", u.Handle, u.Host)
}
