package testsupport

import (
	"fmt"

	"github.com/google/uuid"
)

// User is the record type shared by tests and examples.
type User struct {
	ID    string `json:"id" msgpack:"id"`
	Email string `json:"email" msgpack:"email"`
	Name  string `json:"name" msgpack:"name"`
}

// NewUser returns a user with a fresh ID.
func NewUser(name string) User {
	return User{
		ID:    uuid.NewString(),
		Email: fmt.Sprintf("%s@example.com", name),
		Name:  name,
	}
}

// NewUsers returns n users with fresh IDs and sequential names.
func NewUsers(n int) []User {
	users := make([]User, n)
	for i := range users {
		users[i] = NewUser(fmt.Sprintf("user-%d", i))
	}
	return users
}

// NewDraftUsers returns n users without IDs, as records look before their
// first insert.
func NewDraftUsers(n int) []User {
	users := make([]User, n)
	for i := range users {
		name := fmt.Sprintf("draft-%d", i)
		users[i] = User{Email: fmt.Sprintf("%s@example.com", name), Name: name}
	}
	return users
}
