package providers

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
)

var _ AuthProvider = &FirebaseAuthProvider{}

// anonymousProvider is the sign-in provider of anonymous Firebase users.
const anonymousProvider = "anonymous"

type FirebaseAuthProvider struct {
	// auth is the Firebase Auth client
	auth *auth.Client
}

// NewFirebaseAuthProvider creates a new FirebaseAuthProvider
func NewFirebaseAuthProvider(ctx context.Context, app *firebase.App) (*FirebaseAuthProvider, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Auth client: %v", err)
	}

	return &FirebaseAuthProvider{
		auth: client,
	}, nil
}

// VerifyToken verifies a Firebase ID token
func (p *FirebaseAuthProvider) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	token, err := p.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("error verifying token: %v", err)
	}

	claims := &TokenClaims{
		UID:         token.UID,
		IsAnonymous: token.Firebase.SignInProvider == anonymousProvider,
	}
	if email, ok := token.Claims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		claims.DisplayName = name
	}
	return claims, nil
}

// RevokeToken verifies idToken and revokes every refresh token of its user
func (p *FirebaseAuthProvider) RevokeToken(ctx context.Context, idToken string) error {
	token, err := p.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return fmt.Errorf("error verifying token: %v", err)
	}
	if err := p.auth.RevokeRefreshTokens(ctx, token.UID); err != nil {
		return fmt.Errorf("error revoking refresh tokens: %v", err)
	}
	return nil
}
