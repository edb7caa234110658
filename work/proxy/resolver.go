package proxy

import (
	"context"
	"crypto/subtle"
	"fmt"

	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/types"
)

// Resolution is the catalog view of a catch-up request.
type Resolution struct {
	User    *types.User
	Channel *types.Channel
	Stream  *types.Stream
	Account *types.ProviderAccount
}

// Resolver maps a provider stream id to the internal channel and stream and
// enforces who may replay it. It never writes to the stores.
type Resolver struct {
	users   UserStore
	catalog CatalogStore
}

// NewResolver creates a Resolver over the given stores.
func NewResolver(users UserStore, catalog CatalogStore) *Resolver {
	return &Resolver{users: users, catalog: catalog}
}

// Authenticate checks username and catch-up secret. The user must exist, have a
// secret configured and the secret must match exactly.
func (r *Resolver) Authenticate(ctx context.Context, username, secret string) (*types.User, error) {
	user, err := r.users.UserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if user == nil {
		logger.Debug("{proxy/resolver - Authenticate} Unknown user %s", username)
		return nil, ErrAuthentication
	}
	if user.CatchupSecret == "" {
		logger.Debug("{proxy/resolver - Authenticate} User %s has no catch-up secret", username)
		return nil, ErrAuthentication
	}
	if subtle.ConstantTimeCompare([]byte(user.CatchupSecret), []byte(secret)) != 1 {
		logger.Debug("{proxy/resolver - Authenticate} Secret mismatch for user %s", username)
		return nil, ErrAuthentication
	}
	return user, nil
}

// Lookup finds the first Xtream Codes stream carrying providerStreamID and its
// first channel. It performs no access checks.
func (r *Resolver) Lookup(ctx context.Context, providerStreamID string) (*types.Channel, *types.Stream, *types.ProviderAccount, error) {
	stream, account, err := r.catalog.StreamByProviderID(ctx, providerStreamID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stream lookup: %w", err)
	}
	if stream == nil {
		return nil, nil, nil, fmt.Errorf("provider stream %s: %w", providerStreamID, ErrNotFound)
	}

	channel, err := r.catalog.ChannelForStream(ctx, stream.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("channel lookup: %w", err)
	}
	if channel == nil {
		return nil, nil, nil, fmt.Errorf("stream %d has no channel: %w", stream.ID, ErrNotFound)
	}

	return channel, stream, account, nil
}

// Resolve authenticates the user, finds the channel for providerStreamID and
// verifies the user may replay it.
func (r *Resolver) Resolve(ctx context.Context, username, secret, providerStreamID string) (*Resolution, error) {
	user, err := r.Authenticate(ctx, username, secret)
	if err != nil {
		return nil, err
	}

	channel, stream, account, err := r.Lookup(ctx, providerStreamID)
	if err != nil {
		return nil, err
	}

	if user.UserLevel < channel.UserLevel {
		logger.Debug("{proxy/resolver - Resolve} User %s (level %d) below channel %s level %d",
			user.Username, user.UserLevel, channel.Name, channel.UserLevel)
		return nil, ErrAuthorization
	}

	if !stream.ArchiveEnabled() {
		return nil, ErrArchiveDisabled
	}
	if !account.IsXtreamCodes() {
		return nil, ErrNotXtreamCodes
	}

	return &Resolution{
		User:    user,
		Channel: channel,
		Stream:  stream,
		Account: account,
	}, nil
}
