package authtest

import (
	"context"
	"time"

	"github.com/airbusgeo/cdse-dl/interface/auth"
)

// NewSession returns a session authenticated against the fake identity provider.
// clock may be nil.
func (id *Identity) NewSession(ctx context.Context, clock *Clock, opts ...auth.SessionOption) (*auth.Session, error) {
	creds, err := auth.NewCredentials(id.Username, id.Password)
	if err != nil {
		return nil, err
	}
	tokenOpts := []auth.TokenOption{auth.WithTokenURL(id.TokenURL())}
	if clock != nil {
		tokenOpts = append(tokenOpts, auth.WithClock(clock.Now))
	} else {
		tokenOpts = append(tokenOpts, auth.WithClock(time.Now))
	}
	store, err := auth.NewTokenStore(ctx, creds, tokenOpts...)
	if err != nil {
		return nil, err
	}
	return auth.NewSession(store, opts...), nil
}
