package httpapi

import "context"

type authContextKey string

const authPartyKey authContextKey = "authParty"

// AuthParty is the authenticated caller: a stable party id plus a role
// supplied by the identity layer. The core trusts this input and performs no
// cryptographic verification beyond the token signature.
type AuthParty struct {
	PartyID string
	Role    string
}

func withAuthParty(ctx context.Context, p *AuthParty) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, authPartyKey, p)
}

func authPartyFromContext(ctx context.Context) *AuthParty {
	if p, ok := ctx.Value(authPartyKey).(*AuthParty); ok {
		return p
	}
	return nil
}
