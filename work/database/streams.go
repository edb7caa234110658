package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"kptv-timeshift/work/types"
)

const streamColumns = `s.id, s.name, s.m3u_account_id, s.url, s.custom_properties`

// streamRow collects the raw columns of a stream before the property bag is decoded
type streamRow struct {
	stream types.Stream
	props  string
}

func (r *streamRow) dest() []any {
	return []any{&r.stream.ID, &r.stream.Name, &r.stream.AccountID, &r.stream.URL, &r.props}
}

func (r *streamRow) decode() (*types.Stream, error) {
	r.stream.Properties = map[string]any{}
	if r.props != "" {
		if err := json.Unmarshal([]byte(r.props), &r.stream.Properties); err != nil {
			return nil, fmt.Errorf("invalid custom_properties on stream %d: %w", r.stream.ID, err)
		}
	}
	return &r.stream, nil
}

// SaveStream inserts or updates a stream and its custom properties. A zero ID inserts a new row.
func (db *DB) SaveStream(ctx context.Context, s *types.Stream) (int64, error) {
	props := s.Properties
	if props == nil {
		props = map[string]any{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal custom properties: %w", err)
	}

	query := `
		INSERT INTO streams (id, name, m3u_account_id, url, custom_properties)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			m3u_account_id = excluded.m3u_account_id,
			url = excluded.url,
			custom_properties = excluded.custom_properties,
			updated_at = strftime('%s', 'now')
	`

	result, err := db.ExecContext(ctx, query, nullableID(s.ID), s.Name, s.AccountID, s.URL, string(propsJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to save stream %s: %w", s.Name, err)
	}

	return savedID(result, s.ID)
}

// StreamByProviderID finds the Xtream Codes stream whose custom_properties.stream_id
// equals providerStreamID. Duplicates resolve to the lowest internal stream id.
// Returns nils when nothing matches.
func (db *DB) StreamByProviderID(ctx context.Context, providerStreamID string) (*types.Stream, *types.ProviderAccount, error) {
	query := `
		SELECT ` + streamColumns + `, ` + accountColumns + `
		FROM streams s
		JOIN m3u_accounts a ON a.id = s.m3u_account_id
		WHERE CAST(json_extract(s.custom_properties, '$.stream_id') AS TEXT) = ?
		  AND a.account_type = ?
		ORDER BY s.id
		LIMIT 1
	`

	var row streamRow
	var account types.ProviderAccount
	err := db.QueryRowContext(ctx, query, providerStreamID, types.AccountTypeXC).
		Scan(scanAccount(row.dest(), &account)...)

	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up provider stream %s: %w", providerStreamID, err)
	}

	stream, err := row.decode()
	if err != nil {
		return nil, nil, err
	}

	return stream, &account, nil
}

// FirstStreamForChannel returns the first Xtream Codes stream attached to a
// channel, ordered by channel_streams.ord then stream id. Catch-up and archive
// listings only ever use XC streams since no other provider type keeps an
// archive. Returns nils when the channel has no XC stream.
func (db *DB) FirstStreamForChannel(ctx context.Context, channelID int64) (*types.Stream, *types.ProviderAccount, error) {
	return db.firstStreamForChannel(ctx, channelID, true)
}

// LiveStreamForChannel returns the stream live playback of a channel starts
// with: the first attached stream of any account type, in the same order as
// FirstStreamForChannel. Returns nils when the channel has no streams.
func (db *DB) LiveStreamForChannel(ctx context.Context, channelID int64) (*types.Stream, *types.ProviderAccount, error) {
	return db.firstStreamForChannel(ctx, channelID, false)
}

func (db *DB) firstStreamForChannel(ctx context.Context, channelID int64, xcOnly bool) (*types.Stream, *types.ProviderAccount, error) {
	query := `
		SELECT ` + streamColumns + `, ` + accountColumns + `
		FROM channel_streams cs
		JOIN streams s ON s.id = cs.stream_id
		JOIN m3u_accounts a ON a.id = s.m3u_account_id
		WHERE cs.channel_id = ? AND (? = 0 OR a.account_type = ?)
		ORDER BY cs.ord, s.id
		LIMIT 1
	`

	filter := 0
	if xcOnly {
		filter = 1
	}

	var row streamRow
	var account types.ProviderAccount
	err := db.QueryRowContext(ctx, query, channelID, filter, types.AccountTypeXC).
		Scan(scanAccount(row.dest(), &account)...)

	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stream for channel %d: %w", channelID, err)
	}

	stream, err := row.decode()
	if err != nil {
		return nil, nil, err
	}

	return stream, &account, nil
}
