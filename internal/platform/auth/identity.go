package auth

import (
	"context"
	"strings"
)

// Identity is the session identity as the dashboard sees it: an opaque
// subject and an optional email. Result-store reads and deletes are scoped
// by this pair and nothing else.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

// Anonymous reports whether the identity carries no usable owner key.
func (i Identity) Anonymous() bool {
	return strings.TrimSpace(i.Subject) == "" && strings.TrimSpace(i.Email) == ""
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
