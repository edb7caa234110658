package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeshiftPathUsesFifthSegmentAsStreamID(t *testing.T) {
	req, ok := ParseTimeshiftPath("/timeshift/alice/s3cret/155/2025-01-15:14-30/22371.ts")
	require.True(t, ok)

	assert.Equal(t, "alice", req.Username)
	assert.Equal(t, "s3cret", req.Password)
	assert.Equal(t, "2025-01-15:14-30", req.Timestamp)

	// segment three is the client's channel number, segment five the provider id
	assert.Equal(t, "155", req.IgnoredField)
	assert.Equal(t, "22371", req.ProviderStreamID)
}

func TestParseTimeshiftPathWithoutLeadingSlash(t *testing.T) {
	req, ok := ParseTimeshiftPath("timeshift/u/p/1/2025-01-15:14-30/9.ts")
	require.True(t, ok)
	assert.Equal(t, "9", req.ProviderStreamID)
}

func TestParseTimeshiftPathRejectsOtherShapes(t *testing.T) {
	paths := []string{
		"/timeshift/alice/s3cret/155/2025-01-15:14-30/22371.m3u8",
		"/timeshift/alice/s3cret/abc/2025-01-15:14-30/22371.ts",
		"/timeshift/alice/s3cret/155/2025-01-15T14:30/22371.ts",
		"/timeshift/alice/155/2025-01-15:14-30/22371.ts",
		"/live/alice/s3cret/22371.ts",
		"/timeshift/alice/s3cret/155/2025-01-15:14-30/22371.ts/extra",
		"/",
	}
	for _, p := range paths {
		_, ok := ParseTimeshiftPath(p)
		assert.False(t, ok, p)
		assert.False(t, IsTimeshiftPath(p), p)
	}
}

func TestParseLivePath(t *testing.T) {
	req, ok := ParseLivePath("/live/alice/s3cret/22371.ts")
	require.True(t, ok)
	assert.Equal(t, "alice", req.Username)
	assert.Equal(t, "s3cret", req.Password)
	assert.Equal(t, "22371", req.StreamID)

	req, ok = ParseLivePath("live/alice/s3cret/101")
	require.True(t, ok)
	assert.Equal(t, "101", req.StreamID)

	for _, p := range []string{
		"/live/alice/s3cret/abc.ts",
		"/live/alice/22371.ts",
		"/live/alice/s3cret/22371.ts/extra",
		"/timeshift/alice/s3cret/155/2025-01-15:14-30/22371.ts",
	} {
		_, ok := ParseLivePath(p)
		assert.False(t, ok, p)
		assert.False(t, IsLivePath(p), p)
	}
}
