package parser

import (
	"kptv-timeshift/work/types"

	regexp "github.com/grafana/regexp"
)

// timeshiftPattern matches catch-up paths built by Xtream Codes clients:
//
//	/timeshift/{username}/{password}/{channel number}/{YYYY-MM-DD:HH-MM}/{provider stream id}.ts
//
// The third segment is the client's own channel/schedule number. The provider
// stream id is the fifth segment. Clients build the URL this way; do not swap them.
var timeshiftPattern = regexp.MustCompile(
	`^/?timeshift/(?P<username>[^/]+)/(?P<password>[^/]+)/(?P<ignored>\d+)/(?P<timestamp>[\d\-:]+)/(?P<providerStreamId>\d+)\.ts$`,
)

var (
	usernameIdx  = timeshiftPattern.SubexpIndex("username")
	passwordIdx  = timeshiftPattern.SubexpIndex("password")
	ignoredIdx   = timeshiftPattern.SubexpIndex("ignored")
	timestampIdx = timeshiftPattern.SubexpIndex("timestamp")
	streamIDIdx  = timeshiftPattern.SubexpIndex("providerStreamId")
)

// ParseTimeshiftPath extracts a CatchupRequest from path. The boolean is false
// when path is not a catch-up path and should fall through to normal routing.
func ParseTimeshiftPath(path string) (*types.CatchupRequest, bool) {
	m := timeshiftPattern.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}

	return &types.CatchupRequest{
		Username:         m[usernameIdx],
		Password:         m[passwordIdx],
		IgnoredField:     m[ignoredIdx],
		Timestamp:        m[timestampIdx],
		ProviderStreamID: m[streamIDIdx],
	}, true
}

// IsTimeshiftPath reports whether path has the catch-up shape.
func IsTimeshiftPath(path string) bool {
	return timeshiftPattern.MatchString(path)
}

// livePattern matches Xtream Codes live playback paths. The id is whatever
// get_live_streams advertised, so it may be a provider stream id or an
// internal channel id. Any extension (.ts, .m3u8) is dropped.
var livePattern = regexp.MustCompile(
	`^/?live/(?P<username>[^/]+)/(?P<password>[^/]+)/(?P<streamId>\d+)(?:\.[A-Za-z0-9]+)?$`,
)

var (
	liveUsernameIdx = livePattern.SubexpIndex("username")
	livePasswordIdx = livePattern.SubexpIndex("password")
	liveStreamIDIdx = livePattern.SubexpIndex("streamId")
)

// ParseLivePath extracts a LiveRequest from path. The boolean is false when
// path is not a live playback path.
func ParseLivePath(path string) (*types.LiveRequest, bool) {
	m := livePattern.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}

	return &types.LiveRequest{
		Username: m[liveUsernameIdx],
		Password: m[livePasswordIdx],
		StreamID: m[liveStreamIDIdx],
	}, true
}

// IsLivePath reports whether path has the live playback shape.
func IsLivePath(path string) bool {
	return livePattern.MatchString(path)
}
