package database

import (
	"context"
	"database/sql"
	"fmt"

	"kptv-timeshift/work/types"
)

const channelColumns = `c.id, c.name, c.channel_number, c.user_level, COALESCE(c.epg_data_id, 0), c.tvg_id, c.logo_url`

func channelDest(ch *types.Channel) []any {
	return []any{&ch.ID, &ch.Name, &ch.ChannelNumber, &ch.UserLevel, &ch.EPGDataID, &ch.TVGID, &ch.LogoURL}
}

// SaveChannel inserts or updates a channel. A zero ID inserts a new row.
func (db *DB) SaveChannel(ctx context.Context, ch *types.Channel) (int64, error) {
	query := `
		INSERT INTO channels (id, name, channel_number, user_level, epg_data_id, tvg_id, logo_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			channel_number = excluded.channel_number,
			user_level = excluded.user_level,
			epg_data_id = excluded.epg_data_id,
			tvg_id = excluded.tvg_id,
			logo_url = excluded.logo_url,
			updated_at = strftime('%s', 'now')
	`

	result, err := db.ExecContext(ctx, query,
		nullableID(ch.ID), ch.Name, ch.ChannelNumber, ch.UserLevel, nullableID(ch.EPGDataID), ch.TVGID, ch.LogoURL)
	if err != nil {
		return 0, fmt.Errorf("failed to save channel %s: %w", ch.Name, err)
	}

	return savedID(result, ch.ID)
}

// LinkStream attaches a stream to a channel at the given position.
func (db *DB) LinkStream(ctx context.Context, channelID, streamID int64, ord int) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO channel_streams (channel_id, stream_id, ord) VALUES (?, ?, ?)
		ON CONFLICT(channel_id, stream_id) DO UPDATE SET ord = excluded.ord
	`, channelID, streamID, ord)
	if err != nil {
		return fmt.Errorf("failed to link stream %d to channel %d: %w", streamID, channelID, err)
	}
	return nil
}

// ChannelForStream returns the first channel a stream is attached to, ordered by
// channel_streams.ord then channel id. Returns nil when the stream is unattached.
func (db *DB) ChannelForStream(ctx context.Context, streamID int64) (*types.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channel_streams cs
		JOIN channels c ON c.id = cs.channel_id
		WHERE cs.stream_id = ?
		ORDER BY cs.ord, c.id
		LIMIT 1
	`

	var ch types.Channel
	err := db.QueryRowContext(ctx, query, streamID).Scan(channelDest(&ch)...)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel for stream %d: %w", streamID, err)
	}

	return &ch, nil
}

// ChannelByID retrieves a channel by id. Returns nil when it does not exist.
func (db *DB) ChannelByID(ctx context.Context, id int64) (*types.Channel, error) {
	var ch types.Channel
	err := db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels c WHERE c.id = ?`, id).
		Scan(channelDest(&ch)...)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	return &ch, nil
}

// ChannelsForLevel lists the channels a user of the given level may watch,
// ordered by channel number.
func (db *DB) ChannelsForLevel(ctx context.Context, userLevel int) ([]*types.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels c
		WHERE c.user_level <= ?
		ORDER BY c.channel_number, c.id
	`

	rows, err := db.QueryContext(ctx, query, userLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	defer rows.Close()

	var channels []*types.Channel
	for rows.Next() {
		var ch types.Channel
		if err := rows.Scan(channelDest(&ch)...); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, &ch)
	}

	return channels, rows.Err()
}
