package users

import (
	"crypto/subtle"
	"errors"
	"sort"
	"sync"
)

// ErrUserNotFound is returned by LocalUsers.Get for an unknown username
var ErrUserNotFound = errors.New("user not found")

// Authenticator checks the credentials sent with USER and PASS
type Authenticator interface {
	Authenticate(username, password string) bool
}

// SharedSecret accepts any username with the one configured password
type SharedSecret string

var _ Authenticator = SharedSecret("")

func (s SharedSecret) Authenticate(_, password string) bool {
	return subtle.ConstantTimeCompare([]byte(s), []byte(password)) == 1
}

type User struct {
	Username string
	Password string
}

var _ Authenticator = &LocalUsers{}

// LocalUsers is an in-memory username to password table
type LocalUsers struct {
	users map[string]*User
	wg    sync.RWMutex
}

func NewLocalUsers() *LocalUsers {
	return &LocalUsers{
		users: make(map[string]*User),
	}
}

// List returns the usernames in order
func (u *LocalUsers) List() []string {
	u.wg.RLock()
	defer u.wg.RUnlock()
	names := make([]string, 0, len(u.users))
	for name := range u.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (u *LocalUsers) Get(username string) (*User, error) {
	u.wg.RLock()
	defer u.wg.RUnlock()
	user, ok := u.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Add adds or replaces a user
func (u *LocalUsers) Add(username, password string) *User {
	u.wg.Lock()
	defer u.wg.Unlock()

	newUser := &User{
		Username: username,
		Password: password,
	}
	u.users[newUser.Username] = newUser
	return newUser
}

func (u *LocalUsers) Remove(username string) *User {
	u.wg.Lock()
	defer u.wg.Unlock()
	oldUser := u.users[username]
	delete(u.users, username)
	return oldUser
}

// Authenticate reports whether username exists and password matches
func (u *LocalUsers) Authenticate(username, password string) bool {
	user, err := u.Get(username)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) == 1
}
