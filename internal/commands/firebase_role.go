// Firebase-backed role resolution, adapted from services/user.go's
// AuthMiddleware: the same firebase.App ID-token verification, lifted
// out of the HTTP middleware and repurposed to authorize chat
// operators instead of API requests.
package commands

import (
	"context"
	"sync"

	firebase "firebase.google.com/go"

	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/logging"
	"github.com/sentineldesk/core/internal/model"
)

// FirebaseRoleResolver verifies a Firebase ID token once (at account
// link time) and caches the resulting UID's role for subsequent
// command parses, which need synchronous role lookup.
type FirebaseRoleResolver struct {
	app *firebase.App

	mu     sync.RWMutex
	admins map[string]bool // Firebase UID -> admin
	linked map[string]string // chat userID -> Firebase UID
}

func NewFirebaseRoleResolver(app *firebase.App, seedAdminUIDs []string) *FirebaseRoleResolver {
	admins := map[string]bool{}
	for _, uid := range seedAdminUIDs {
		admins[uid] = true
	}
	return &FirebaseRoleResolver{app: app, admins: admins, linked: map[string]string{}}
}

// LinkAccount verifies idToken and associates chatUserID with the
// resulting Firebase UID, the one-time step an operator performs to
// prove who they are before being granted a role.
func (f *FirebaseRoleResolver) LinkAccount(ctx context.Context, chatUserID, idToken string) error {
	client, err := f.app.Auth(ctx)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "FirebaseAuthClientUnavailable", err)
	}
	token, err := client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return errs.Wrap(errs.KindInput, "InvalidFirebaseToken", err)
	}

	f.mu.Lock()
	f.linked[chatUserID] = token.UID
	f.mu.Unlock()
	logging.Info("chat user %s linked to firebase uid %s", chatUserID, token.UID)
	return nil
}

// PromoteAdmin grants admin authorization to a Firebase UID; callers
// are responsible for only invoking this from an already-authorized
// admin command.
func (f *FirebaseRoleResolver) PromoteAdmin(uid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins[uid] = true
}

// Resolve implements RoleResolver using the cached link+admin tables;
// an unlinked chat user is always USER, never ADMIN, regardless of any
// out-of-band claim.
func (f *FirebaseRoleResolver) Resolve(chatUserID string) model.Role {
	f.mu.RLock()
	defer f.mu.RUnlock()
	uid, ok := f.linked[chatUserID]
	if !ok {
		return model.RoleUser
	}
	if f.admins[uid] {
		return model.RoleAdmin
	}
	return model.RoleUser
}
