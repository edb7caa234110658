package proxy

import (
	"context"
	"time"

	"kptv-timeshift/work/types"
)

// memoryStore is an in-memory Store for resolver and planner tests.
type memoryStore struct {
	users    map[string]*types.User
	streams  map[string]*types.Stream // by provider stream id
	accounts map[int64]*types.ProviderAccount
	channels map[int64]*types.Channel // by stream id
	programs []*types.ScheduleEntry
	settings *types.PluginSettings
	err      error // returned by every lookup when set
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    map[string]*types.User{},
		streams:  map[string]*types.Stream{},
		accounts: map[int64]*types.ProviderAccount{},
		channels: map[int64]*types.Channel{},
		settings: &types.PluginSettings{Enabled: true},
	}
}

func (m *memoryStore) UserByUsername(_ context.Context, username string) (*types.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[username], nil
}

func (m *memoryStore) StreamByProviderID(_ context.Context, id string) (*types.Stream, *types.ProviderAccount, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	s, ok := m.streams[id]
	if !ok {
		return nil, nil, nil
	}
	return s, m.accounts[s.AccountID], nil
}

func (m *memoryStore) ChannelForStream(_ context.Context, streamID int64) (*types.Channel, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.channels[streamID], nil
}

func (m *memoryStore) ChannelByID(_ context.Context, id int64) (*types.Channel, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, c := range m.channels {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) ChannelsForLevel(_ context.Context, level int) ([]*types.Channel, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*types.Channel
	for _, c := range m.channels {
		if c.UserLevel <= level {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryStore) FirstStreamForChannel(_ context.Context, channelID int64) (*types.Stream, *types.ProviderAccount, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	for streamID, c := range m.channels {
		if c.ID != channelID {
			continue
		}
		for _, s := range m.streams {
			if s.ID == streamID {
				return s, m.accounts[s.AccountID], nil
			}
		}
	}
	return nil, nil, nil
}

func (m *memoryStore) LiveStreamForChannel(ctx context.Context, channelID int64) (*types.Stream, *types.ProviderAccount, error) {
	return m.FirstStreamForChannel(ctx, channelID)
}

func (m *memoryStore) ProgramAt(_ context.Context, epgDataID int64, at time.Time) (*types.ScheduleEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.programs {
		if p.EPGDataID == epgDataID && !p.Start.After(at) && at.Before(p.End) {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) ProgramsSince(_ context.Context, epgDataID int64, since time.Time) ([]*types.ScheduleEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*types.ScheduleEntry
	for _, p := range m.programs {
		if p.EPGDataID == epgDataID && !p.Start.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) PluginSettings(_ context.Context) (*types.PluginSettings, error) {
	if m.err != nil {
		return nil, m.err
	}
	copied := *m.settings
	return &copied, nil
}

// catchupFixture registers alice, an XC account and an archived stream 22371
// on channel "News" (level 1, guide 7).
func catchupFixture() *memoryStore {
	m := newMemoryStore()
	m.users["alice"] = &types.User{ID: 1, Username: "alice", UserLevel: 1, CatchupSecret: "s3cret"}
	m.users["bob"] = &types.User{ID: 2, Username: "bob", UserLevel: 1}
	m.users["carol"] = &types.User{ID: 3, Username: "carol", UserLevel: 0, CatchupSecret: "c4rol"}
	m.accounts[1] = &types.ProviderAccount{ID: 1, ServerURL: "http://provider.example/", Username: "pu", Password: "pp", AccountType: types.AccountTypeXC}
	m.streams["22371"] = &types.Stream{ID: 10, AccountID: 1, Properties: map[string]any{"stream_id": float64(22371), "tv_archive": float64(1)}}
	m.channels[10] = &types.Channel{ID: 100, Name: "News", UserLevel: 1, EPGDataID: 7}
	return m
}
