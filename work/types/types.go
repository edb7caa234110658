package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AccountTypeXC marks a provider account that speaks the Xtream Codes API.
// Only streams owned by such accounts can be replayed through the timeshift engine.
const AccountTypeXC = "XC"

// DefaultArchiveDays is the retention assumed when a stream does not advertise
// tv_archive_duration.
const DefaultArchiveDays = 7

// Dialect identifies one of the two URL shapes providers accept for catch-up playback.
type Dialect string

const (
	DialectA Dialect = "A" // query form: /streaming/timeshift.php?username=...&start=...
	DialectB Dialect = "B" // path form: /timeshift/{user}/{pass}/{duration}/{start}/{id}.ts
)

// CatchupRequest holds the fields extracted from an inbound timeshift path.
// It is created per request and never mutated.
type CatchupRequest struct {
	Username         string // client username
	Password         string // catch-up secret, not the login password
	IgnoredField     string // third path segment; a client-side channel number, never used for lookup
	Timestamp        string // requested start in UTC, formatted 2006-01-02:15-04
	ProviderStreamID string // fifth path segment; the provider-assigned stream id
}

// LiveRequest holds the fields of an inbound /live/{username}/{password}/{id} path.
// StreamID is tried as a provider stream id first and as an internal channel id second.
type LiveRequest struct {
	Username string // client username
	Password string // catch-up secret
	StreamID string // id from the last segment, extension stripped
}

// User is a client account allowed to request catch-up playback.
type User struct {
	ID            int64  // internal user id
	Username      string // login name
	UserLevel     int    // access level compared against Channel.UserLevel
	CatchupSecret string // custom_properties.xc_password; empty disables catch-up for the user
}

// Channel is an internal channel record. It is read-only to the engine.
type Channel struct {
	ID            int64   // internal channel id
	Name          string  // display name
	ChannelNumber float64 // ordering number shown to clients
	UserLevel     int     // minimum user level required to watch the channel
	EPGDataID     int64   // schedule reference; zero when the channel has no guide data
	TVGID         string  // XMLTV channel id
	LogoURL       string  // channel logo
}

// HasSchedule reports whether the channel references guide data.
func (c *Channel) HasSchedule() bool {
	return c != nil && c.EPGDataID > 0
}

// Stream is a provider stream record. Provider metadata lives in the opaque
// Properties bag exactly as it was imported.
type Stream struct {
	ID         int64          // internal stream id
	Name       string         // display name
	AccountID  int64          // owning provider account
	URL        string         // live URL as imported
	Properties map[string]any // custom_properties JSON (stream_id, tv_archive, tv_archive_duration, ...)
}

// ProviderStreamID returns the provider-assigned stream id in string form.
func (s *Stream) ProviderStreamID() string {
	return propertyString(s.Properties["stream_id"])
}

// EPGChannelID returns the provider's epg_channel_id, if any.
func (s *Stream) EPGChannelID() string {
	return propertyString(s.Properties["epg_channel_id"])
}

// ArchiveEnabled reports whether tv_archive is truthy (1, "1" or true).
func (s *Stream) ArchiveEnabled() bool {
	switch v := s.Properties["tv_archive"].(type) {
	case bool:
		return v
	case float64:
		return v == 1
	case int:
		return v == 1
	case int64:
		return v == 1
	case json.Number:
		return v.String() == "1"
	case string:
		return strings.TrimSpace(v) == "1"
	default:
		return false
	}
}

// ArchiveDays returns tv_archive_duration, defaulting to DefaultArchiveDays.
func (s *Stream) ArchiveDays() int {
	raw := propertyString(s.Properties["tv_archive_duration"])
	if raw == "" {
		return DefaultArchiveDays
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return DefaultArchiveDays
	}
	return days
}

// propertyString renders a JSON scalar the way the provider sent it.
// Whole floats are printed without a fractional part.
func propertyString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// ProviderAccount is an upstream provider login.
type ProviderAccount struct {
	ID          int64  // internal account id, also the dialect cache key
	Name        string // display name
	ServerURL   string // provider base URL, possibly with a trailing slash
	Username    string // provider username
	Password    string // provider password
	AccountType string // "XC" for Xtream Codes
	UserAgent   string // User-Agent sent upstream
}

// IsXtreamCodes reports whether the account is of the Xtream Codes kind.
func (a *ProviderAccount) IsXtreamCodes() bool {
	return a != nil && a.AccountType == AccountTypeXC
}

// ScheduleEntry is a single guide programme.
type ScheduleEntry struct {
	ID          int64
	EPGDataID   int64
	Start       time.Time
	End         time.Time
	Title       string
	Description string
}

// PluginSettings is the live configuration consulted on every request.
type PluginSettings struct {
	Enabled  bool   `json:"enabled"`  // engine intercepts timeshift paths only when true
	Timezone string `json:"timezone"` // IANA zone of the provider
	Language string `json:"language"` // language reported in archive listings
}

// ChannelStream pairs a channel with its first Xtream Codes stream, if any.
type ChannelStream struct {
	Channel *Channel
	Stream  *Stream
	Account *ProviderAccount
}
