package domain

// Actor identifies who is performing a workflow operation. It is built by
// the auth middleware and passed explicitly into every call.
type Actor struct {
	UserID  string
	IsAdmin bool
}

// Anonymous reports whether the actor carries no identity.
func (a Actor) Anonymous() bool {
	return a.UserID == ""
}

// RequireMember fails unless the actor is signed in.
func (a Actor) RequireMember() error {
	if a.Anonymous() {
		return &AuthorizationError{Reason: "sign in required"}
	}
	return nil
}

// RequireAdmin fails unless the actor is a signed-in admin.
func (a Actor) RequireAdmin() error {
	if err := a.RequireMember(); err != nil {
		return err
	}
	if !a.IsAdmin {
		return &AuthorizationError{Reason: "admin capability required"}
	}
	return nil
}
