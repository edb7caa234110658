package proxy

import (
	"context"
	"fmt"
	"math"
	"time"
	_ "time/tzdata"

	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/types"
)

const (
	// TimestampLayout is the catch-up start format used by clients and providers.
	TimestampLayout = "2006-01-02:15-04"

	DefaultTimezone = "Europe/Brussels"
	DefaultLanguage = "en"

	DefaultDurationMinutes = 120
	DurationBufferMinutes  = 5
	MaxDurationMinutes     = 480
)

// Plan is the provider-side timing of a catch-up request.
type Plan struct {
	LocalTimestamp  string // start in the provider's zone, TimestampLayout
	DurationMinutes int    // minutes requested from the provider
}

// Planner converts request times to the provider's zone and sizes the request
// from the channel's guide.
type Planner struct {
	schedule ScheduleStore
}

// NewPlanner creates a Planner reading programmes from schedule.
func NewPlanner(schedule ScheduleStore) *Planner {
	return &Planner{schedule: schedule}
}

// LoadZone resolves an IANA zone name. An empty name means DefaultTimezone.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q: %v", ErrTimestamp, name, err)
	}
	return loc, nil
}

// ConvertTimestamp reinterprets a UTC catch-up timestamp in loc.
func ConvertTimestamp(ts string, loc *time.Location) (string, error) {
	t, err := time.ParseInLocation(TimestampLayout, ts, time.UTC)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrTimestamp, ts, err)
	}
	return t.In(loc).Format(TimestampLayout), nil
}

// ProgramDuration is the programme length rounded up to whole minutes plus
// the startup buffer, capped at MaxDurationMinutes.
func ProgramDuration(start, end time.Time) int {
	minutes := int(math.Ceil(end.Sub(start).Minutes())) + DurationBufferMinutes
	if minutes > MaxDurationMinutes {
		return MaxDurationMinutes
	}
	return minutes
}

// Plan converts ts into the zone named by settings and sizes the request from
// the channel's guide.
//
// The guide is matched on the absolute instant ts names, not on the wall
// clock reading in either zone, since schedule entries are stored as instants.
// When ts does not parse, or the zone cannot be loaded, the error wraps
// ErrTimestamp and the returned Plan still carries the unconverted timestamp
// so callers may degrade instead of aborting. An unknown zone still gets its
// duration from the guide; an unparseable ts gets DefaultDurationMinutes.
func (p *Planner) Plan(ctx context.Context, ts string, channel *types.Channel, settings *types.PluginSettings) (*Plan, error) {
	at, err := time.ParseInLocation(TimestampLayout, ts, time.UTC)
	if err != nil {
		return &Plan{LocalTimestamp: ts, DurationMinutes: DefaultDurationMinutes},
			fmt.Errorf("%w: %q: %v", ErrTimestamp, ts, err)
	}

	plan := &Plan{
		LocalTimestamp:  ts,
		DurationMinutes: p.Duration(ctx, channel, at),
	}

	zone := ""
	if settings != nil {
		zone = settings.Timezone
	}
	loc, err := LoadZone(zone)
	if err != nil {
		return plan, err
	}

	local, err := ConvertTimestamp(ts, loc)
	if err != nil {
		return plan, err
	}
	plan.LocalTimestamp = local
	return plan, nil
}

// Duration finds the programme airing at the instant at and returns its
// ProgramDuration, or DefaultDurationMinutes when there is none.
func (p *Planner) Duration(ctx context.Context, channel *types.Channel, at time.Time) int {
	if !channel.HasSchedule() {
		logger.Debug("{proxy/planner - Duration} Channel has no guide data, using default duration")
		return DefaultDurationMinutes
	}

	entry, err := p.schedule.ProgramAt(ctx, channel.EPGDataID, at)
	if err != nil {
		logger.Warn("{proxy/planner - Duration} Programme lookup failed for channel %s: %v", channel.Name, err)
		return DefaultDurationMinutes
	}
	if entry == nil {
		logger.Debug("{proxy/planner - Duration} No programme at %s on channel %s", at.UTC().Format(TimestampLayout), channel.Name)
		return DefaultDurationMinutes
	}

	duration := ProgramDuration(entry.Start, entry.End)
	logger.Debug("{proxy/planner - Duration} Programme %q on %s: %d minutes", entry.Title, channel.Name, duration)
	return duration
}
