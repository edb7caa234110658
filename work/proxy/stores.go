package proxy

import (
	"context"
	"time"

	"kptv-timeshift/work/types"
)

// UserStore looks up client users. A missing user is (nil, nil).
type UserStore interface {
	UserByUsername(ctx context.Context, username string) (*types.User, error)
}

// CatalogStore is the read-only channel/stream catalog. Missing rows are nils
// with a nil error, so callers decide whether absence is ErrNotFound.
//
// FirstStreamForChannel only considers Xtream Codes accounts, which is what
// archive advertisement needs. LiveStreamForChannel takes the first stream of
// any account type, which is what live playback needs.
type CatalogStore interface {
	StreamByProviderID(ctx context.Context, providerStreamID string) (*types.Stream, *types.ProviderAccount, error)
	ChannelForStream(ctx context.Context, streamID int64) (*types.Channel, error)
	ChannelByID(ctx context.Context, id int64) (*types.Channel, error)
	ChannelsForLevel(ctx context.Context, userLevel int) ([]*types.Channel, error)
	FirstStreamForChannel(ctx context.Context, channelID int64) (*types.Stream, *types.ProviderAccount, error)
	LiveStreamForChannel(ctx context.Context, channelID int64) (*types.Stream, *types.ProviderAccount, error)
}

// ScheduleStore serves guide programmes.
type ScheduleStore interface {
	ProgramAt(ctx context.Context, epgDataID int64, at time.Time) (*types.ScheduleEntry, error)
	ProgramsSince(ctx context.Context, epgDataID int64, since time.Time) ([]*types.ScheduleEntry, error)
}

// SettingsStore returns the live plugin settings.
type SettingsStore interface {
	PluginSettings(ctx context.Context) (*types.PluginSettings, error)
}

// Store is everything the proxy reads. *database.DB satisfies it.
type Store interface {
	UserStore
	CatalogStore
	ScheduleStore
	SettingsStore
}
