package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/metrics"
	"kptv-timeshift/work/types"
)

// PrepareLive resolves a live playback request to an upstream fetch.
//
// The id is looked up as a provider stream id first, which is what
// get_live_streams advertises for archive-capable channels, and then as an
// internal channel id. A channel above the user's level is reported as not
// found so that its existence is not disclosed. No dialect negotiation is
// involved: the stream URL is fetched as stored.
func (tp *TimeshiftProxy) PrepareLive(ctx context.Context, req *types.LiveRequest, rangeHeader string) (Target, error) {
	user, err := tp.Resolver.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return Target{}, err
	}

	channel, stream, account, err := tp.liveTarget(ctx, req.StreamID)
	if err != nil {
		return Target{}, err
	}

	if user.UserLevel < channel.UserLevel {
		logger.Debug("{proxy/live - PrepareLive} User %s (level %d) below channel %s level %d",
			user.Username, user.UserLevel, channel.Name, channel.UserLevel)
		return Target{}, fmt.Errorf("channel %d: %w", channel.ID, ErrNotFound)
	}

	if stream == nil || account == nil || stream.URL == "" {
		return Target{}, fmt.Errorf("channel %d has no playable stream: %w", channel.ID, ErrNotFound)
	}

	logger.Debug("{proxy/live - PrepareLive} %s on %s via stream %d", user.Username, channel.Name, stream.ID)

	return Target{
		AccountID: account.ID,
		Primary:   stream.URL,
		UserAgent: account.UserAgent,
		Range:     rangeHeader,
	}, nil
}

func (tp *TimeshiftProxy) liveTarget(ctx context.Context, streamID string) (*types.Channel, *types.Stream, *types.ProviderAccount, error) {
	channel, stream, account, err := tp.Resolver.Lookup(ctx, streamID)
	if err == nil {
		return channel, stream, account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, nil, nil, err
	}

	id, perr := strconv.ParseInt(streamID, 10, 64)
	if perr != nil {
		return nil, nil, nil, fmt.Errorf("stream %q: %w", streamID, ErrNotFound)
	}
	channel, err = tp.Store.ChannelByID(ctx, id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("channel lookup: %w", err)
	}
	if channel == nil {
		return nil, nil, nil, fmt.Errorf("channel %d: %w", id, ErrNotFound)
	}

	stream, account, err = tp.Store.LiveStreamForChannel(ctx, channel.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("live stream for channel %d: %w", channel.ID, err)
	}
	return channel, stream, account, nil
}

// ServeLive relays the live stream behind req. Failures use the same status
// mapping as catch-up requests.
func (tp *TimeshiftProxy) ServeLive(w http.ResponseWriter, r *http.Request, req *types.LiveRequest) {
	subject := "Live playback for " + req.Username + " stream " + req.StreamID

	target, err := tp.PrepareLive(r.Context(), req, r.Header.Get("Range"))
	if err != nil {
		tp.writeError(w, metrics.LiveRequests, subject, err)
		return
	}
	tp.relay(w, r, target, metrics.LiveRequests, subject)
}
