package parser

import (
	"encoding/base64"
	"strconv"
	"time"
)

// XCListingTimeLayout is the local time format of archive listing entries.
const XCListingTimeLayout = "2006-01-02 15:04:05"

// XCLiveStream represents a single entry of the get_live_streams response. The
// stream_id of archive-capable channels is the provider's id so that clients build
// catch-up URLs the engine can resolve.
type XCLiveStream struct {
	Num               int     `json:"num"`                 // Position in the listing, starting at 1
	Name              string  `json:"name"`                // Channel display name
	StreamType        string  `json:"stream_type"`         // Always "live"
	StreamID          int64   `json:"stream_id"`           // Provider stream id when archived, else internal channel id
	StreamIcon        string  `json:"stream_icon"`         // Channel logo URL
	EpgChannelID      string  `json:"epg_channel_id"`      // XMLTV channel id
	Added             string  `json:"added"`               // Unix seconds as string
	CategoryID        string  `json:"category_id"`         // Category identifier
	ChannelNumber     float64 `json:"channel_number"`      // Channel number shown by the client
	CustomSid         string  `json:"custom_sid"`          // Unused, kept for client compatibility
	TVArchive         int     `json:"tv_archive"`          // 1 when the provider keeps an archive
	DirectSource      string  `json:"direct_source"`       // Unused, kept for client compatibility
	TVArchiveDuration int     `json:"tv_archive_duration"` // Archive retention in days
}

// XCEPGListing is one programme of a get_simple_data_table response. Title and
// description are base64 encoded; start/end are rendered in the provider's zone.
type XCEPGListing struct {
	ID             string `json:"id"`
	EPGID          string `json:"epg_id"`
	Title          string `json:"title"`
	Lang           string `json:"lang"`
	Start          string `json:"start"`
	End            string `json:"end"`
	Description    string `json:"description"`
	ChannelID      string `json:"channel_id"`
	StartTimestamp string `json:"start_timestamp"`
	StopTimestamp  string `json:"stop_timestamp"`
	StreamID       string `json:"stream_id"`
	NowPlaying     int    `json:"now_playing"`
	HasArchive     int    `json:"has_archive"`
}

// XCEPGTable is the get_simple_data_table / get_short_epg envelope.
type XCEPGTable struct {
	EPGListings []XCEPGListing `json:"epg_listings"`
}

// XCProgramme carries the inputs of a single listing entry.
type XCProgramme struct {
	ProgramID   int64
	Start       time.Time
	End         time.Time
	Title       string
	Description string
}

// NewXCEPGListing renders one programme as an archive listing entry. has_archive
// is set for programmes that already ended within archiveDays whole days of now.
func NewXCEPGListing(p XCProgramme, loc *time.Location, lang, channelID, streamID string, now time.Time, archiveDays int, archived bool) XCEPGListing {
	startUnix := strconv.FormatInt(p.Start.Unix(), 10)

	epgID := startUnix
	if p.ProgramID > 0 {
		epgID = strconv.FormatInt(p.ProgramID, 10)
	}

	entry := XCEPGListing{
		ID:             startUnix,
		EPGID:          epgID,
		Title:          base64.StdEncoding.EncodeToString([]byte(p.Title)),
		Lang:           lang,
		Start:          p.Start.In(loc).Format(XCListingTimeLayout),
		End:            p.End.In(loc).Format(XCListingTimeLayout),
		Description:    base64.StdEncoding.EncodeToString([]byte(p.Description)),
		ChannelID:      channelID,
		StartTimestamp: startUnix,
		StopTimestamp:  strconv.FormatInt(p.End.Unix(), 10),
		StreamID:       streamID,
	}

	if !p.Start.After(now) && !p.End.Before(now) {
		entry.NowPlaying = 1
	}

	if archived && p.End.Before(now) {
		daysAgo := int(now.Sub(p.End) / (24 * time.Hour))
		if daysAgo <= archiveDays {
			entry.HasArchive = 1
		}
	}

	return entry
}
