package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/parser"
	"kptv-timeshift/work/types"
	"kptv-timeshift/work/utils"
)

// ErrNoXMLTVSource is returned by LocalizedXMLTV when no source URL is configured.
var ErrNoXMLTVSource = errors.New("no XMLTV source configured")

// LiveStreams builds the get_live_streams listing for user. Channels whose first
// Xtream Codes stream keeps an archive advertise tv_archive and carry the
// provider's stream id, which is what clients put in catch-up paths.
//
// The per-channel stream lookups run on the worker pool.
func (tp *TimeshiftProxy) LiveStreams(ctx context.Context, user *types.User) ([]parser.XCLiveStream, error) {
	channels, err := tp.Store.ChannelsForLevel(ctx, user.UserLevel)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	listing := make([]parser.XCLiveStream, len(channels))
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		errs        []error
		withArchive int
	)

	for i, channel := range channels {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			entry, hasArchive, err := tp.liveStreamEntry(ctx, i+1, channel)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if hasArchive {
				withArchive++
			}
			listing[i] = entry
		}

		if tp.WorkerPool == nil {
			task()
			continue
		}
		if err := tp.WorkerPool.Submit(task); err != nil {
			logger.Debug("{proxy/epg - LiveStreams} Worker pool rejected task, running inline: %v", err)
			task()
		}
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	logger.Debug("{proxy/epg - LiveStreams} Listed %d channels for %s, %d with archive", len(listing), user.Username, withArchive)
	return listing, nil
}

func (tp *TimeshiftProxy) liveStreamEntry(ctx context.Context, num int, channel *types.Channel) (parser.XCLiveStream, bool, error) {
	entry := parser.XCLiveStream{
		Num:           num,
		Name:          channel.Name,
		StreamType:    "live",
		StreamID:      channel.ID,
		StreamIcon:    channel.LogoURL,
		EpgChannelID:  channel.TVGID,
		Added:         "0",
		ChannelNumber: channel.ChannelNumber,
	}

	stream, _, err := tp.Store.FirstStreamForChannel(ctx, channel.ID)
	if err != nil {
		return entry, false, fmt.Errorf("first stream for channel %d: %w", channel.ID, err)
	}
	if stream == nil || !stream.ArchiveEnabled() {
		return entry, false, nil
	}

	if entry.EpgChannelID == "" {
		entry.EpgChannelID = stream.EPGChannelID()
	}
	entry.TVArchive = 1
	entry.TVArchiveDuration = stream.ArchiveDays()
	if id, err := strconv.ParseInt(stream.ProviderStreamID(), 10, 64); err == nil {
		entry.StreamID = id
	}
	return entry, true, nil
}

// listingTarget finds the channel a listing request refers to. streamID is
// tried as a provider stream id first, then as an internal channel id.
func (tp *TimeshiftProxy) listingTarget(ctx context.Context, user *types.User, streamID string) (*types.Channel, *types.Stream, error) {
	channel, stream, _, err := tp.Resolver.Lookup(ctx, streamID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, err
	}

	if channel == nil {
		id, perr := strconv.ParseInt(streamID, 10, 64)
		if perr != nil {
			return nil, nil, fmt.Errorf("stream %q: %w", streamID, ErrNotFound)
		}
		channel, err = tp.Store.ChannelByID(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("channel lookup: %w", err)
		}
		if channel == nil {
			return nil, nil, fmt.Errorf("channel %d: %w", id, ErrNotFound)
		}
		stream, _, err = tp.Store.FirstStreamForChannel(ctx, channel.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("first stream for channel %d: %w", channel.ID, err)
		}
	}

	if user.UserLevel < channel.UserLevel {
		return nil, nil, ErrAuthorization
	}
	return channel, stream, nil
}

// ArchiveListing renders the get_simple_data_table (archive true) or
// get_short_epg (archive false) document for streamID. Archive-capable channels
// list programmes back to their retention window; everything else lists from
// now with has_archive 0. limit caps the entry count when positive.
func (tp *TimeshiftProxy) ArchiveListing(ctx context.Context, user *types.User, streamID string, archive bool, limit int) ([]byte, error) {
	channel, stream, err := tp.listingTarget(ctx, user, streamID)
	if err != nil {
		return nil, err
	}

	settings, err := tp.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("plugin settings: %w", err)
	}
	loc, err := LoadZone(settings.Timezone)
	if err != nil {
		logger.Warn("{proxy/epg - ArchiveListing} %v, using UTC", err)
		loc = time.UTC
	}

	key := fmt.Sprintf("listing:%t:%d:%d:%s:%s", archive, limit, channel.ID, loc.String(), settings.Language)
	if tp.EPGCache != nil {
		if cached, ok := tp.EPGCache.Get(key); ok {
			logger.Debug("{proxy/epg - ArchiveListing} Cache hit for %s", key)
			return cached, nil
		}
	}

	archived := archive && stream != nil && stream.ArchiveEnabled()
	archiveDays := types.DefaultArchiveDays
	listingStreamID := strconv.FormatInt(channel.ID, 10)
	channelID := ""
	if stream != nil {
		archiveDays = stream.ArchiveDays()
		if id := stream.ProviderStreamID(); id != "" {
			listingStreamID = id
		}
		channelID = stream.EPGChannelID()
	}
	if channelID == "" {
		channelID = strconv.FormatInt(channel.ID, 10)
	}

	now := time.Now()
	since := now
	if archived {
		since = now.Add(-time.Duration(archiveDays) * 24 * time.Hour)
	} else if channel.HasSchedule() {
		// start with the programme on air
		current, err := tp.Store.ProgramAt(ctx, channel.EPGDataID, now)
		if err != nil {
			return nil, fmt.Errorf("current programme for channel %d: %w", channel.ID, err)
		}
		if current != nil {
			since = current.Start
		}
	}

	table := parser.XCEPGTable{EPGListings: []parser.XCEPGListing{}}
	if channel.HasSchedule() {
		programs, err := tp.Store.ProgramsSince(ctx, channel.EPGDataID, since)
		if err != nil {
			return nil, fmt.Errorf("programmes for channel %d: %w", channel.ID, err)
		}
		for _, p := range programs {
			if limit > 0 && len(table.EPGListings) >= limit {
				break
			}
			table.EPGListings = append(table.EPGListings, parser.NewXCEPGListing(parser.XCProgramme{
				ProgramID:   p.ID,
				Start:       p.Start,
				End:         p.End,
				Title:       p.Title,
				Description: p.Description,
			}, loc, settings.Language, channelID, listingStreamID, now, archiveDays, archived))
		}
	}

	body, err := json.Marshal(table)
	if err != nil {
		return nil, fmt.Errorf("encode listing: %w", err)
	}

	if tp.EPGCache != nil {
		tp.EPGCache.Set(key, body)
	}

	logger.Debug("{proxy/epg - ArchiveListing} %d entries for channel %s (archive %t)", len(table.EPGListings), channel.Name, archived)
	return body, nil
}

// LocalizedXMLTV fetches the configured XMLTV document and rewrites its
// timestamps into the provider's zone.
func (tp *TimeshiftProxy) LocalizedXMLTV(ctx context.Context) ([]byte, error) {
	if tp.Config.XMLTVURL == "" {
		return nil, ErrNoXMLTVSource
	}

	settings, err := tp.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("plugin settings: %w", err)
	}
	loc, err := LoadZone(settings.Timezone)
	if err != nil {
		return nil, err
	}

	key := "xmltv:" + loc.String()
	if tp.EPGCache != nil {
		if cached, ok := tp.EPGCache.Get(key); ok {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tp.Config.XMLTVURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build XMLTV request: %w", err)
	}

	logger.Debug("{proxy/epg - LocalizedXMLTV} Fetching %s", utils.LogURL(tp.Config, tp.Config.XMLTVURL))
	resp, err := tp.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamStatusError{Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamConnection, err)
	}
	if len(data) == 0 {
		logger.Warn("{proxy/epg - LocalizedXMLTV} Empty XMLTV document")
	}

	doc, converted := parser.LocalizeXMLTV(data, loc)
	logger.Debug("{proxy/epg - LocalizedXMLTV} Rewrote %d timestamps into %s (%d bytes)", converted, loc, len(doc))

	if tp.EPGCache != nil {
		tp.EPGCache.Set(key, doc)
	}
	return doc, nil
}
