package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/types"

	"gopkg.in/yaml.v3"
)

// SeedFile is the catalog import document. YAML is the primary format; JSON
// documents parse as well since YAML is a superset.
type SeedFile struct {
	Settings *types.PluginSettings `yaml:"settings"`
	Accounts []SeedAccount         `yaml:"accounts"`
	Streams  []SeedStream          `yaml:"streams"`
	EPG      []SeedEPG             `yaml:"epg"`
	Channels []SeedChannel         `yaml:"channels"`
	Users    []SeedUser            `yaml:"users"`
}

// SeedAccount is a provider account entry.
type SeedAccount struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	ServerURL   string `yaml:"serverUrl"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	AccountType string `yaml:"accountType"`
	UserAgent   string `yaml:"userAgent"`
}

// SeedStream is a provider stream with its raw custom properties.
type SeedStream struct {
	ID         int64          `yaml:"id"`
	Name       string         `yaml:"name"`
	AccountID  int64          `yaml:"accountId"`
	URL        string         `yaml:"url"`
	Properties map[string]any `yaml:"properties"`
}

// SeedEPG is a guide source with its programmes.
type SeedEPG struct {
	ID       int64         `yaml:"id"`
	TVGID    string        `yaml:"tvgId"`
	Name     string        `yaml:"name"`
	Programs []SeedProgram `yaml:"programs"`
}

// SeedProgram is a single guide programme.
type SeedProgram struct {
	Start       time.Time `yaml:"start"`
	End         time.Time `yaml:"end"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
}

// SeedChannel is a channel and the ordered ids of its streams.
type SeedChannel struct {
	ID        int64   `yaml:"id"`
	Name      string  `yaml:"name"`
	Number    float64 `yaml:"number"`
	UserLevel int     `yaml:"userLevel"`
	EPGDataID int64   `yaml:"epgDataId"`
	TVGID     string  `yaml:"tvgId"`
	LogoURL   string  `yaml:"logoUrl"`
	Streams   []int64 `yaml:"streams"`
}

// SeedUser is a client user and its catch-up secret.
type SeedUser struct {
	Username      string         `yaml:"username"`
	UserLevel     int            `yaml:"userLevel"`
	CatchupSecret string         `yaml:"catchupSecret"`
	Properties    map[string]any `yaml:"properties"`
}

// SeedFromFile parses a seed document from disk and imports it.
func (db *DB) SeedFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	return db.Seed(ctx, &seed)
}

// Seed imports a seed document. Rows with explicit ids are upserted so the
// import can run on every start.
func (db *DB) Seed(ctx context.Context, seed *SeedFile) error {
	if seed.Settings != nil {
		if err := db.SavePluginSettings(ctx, seed.Settings); err != nil {
			return err
		}
	}

	for _, a := range seed.Accounts {
		if _, err := db.SaveAccount(ctx, &types.ProviderAccount{
			ID:          a.ID,
			Name:        a.Name,
			ServerURL:   a.ServerURL,
			Username:    a.Username,
			Password:    a.Password,
			AccountType: a.AccountType,
			UserAgent:   a.UserAgent,
		}); err != nil {
			return err
		}
	}

	for _, s := range seed.Streams {
		if _, err := db.SaveStream(ctx, &types.Stream{
			ID:         s.ID,
			Name:       s.Name,
			AccountID:  s.AccountID,
			URL:        s.URL,
			Properties: s.Properties,
		}); err != nil {
			return err
		}
	}

	for _, e := range seed.EPG {
		epgID, err := db.SaveEPGData(ctx, e.ID, e.TVGID, e.Name)
		if err != nil {
			return err
		}
		if err := db.ClearPrograms(ctx, epgID); err != nil {
			return err
		}
		for _, p := range e.Programs {
			if _, err := db.SaveProgram(ctx, &types.ScheduleEntry{
				EPGDataID:   epgID,
				Start:       p.Start,
				End:         p.End,
				Title:       p.Title,
				Description: p.Description,
			}); err != nil {
				return err
			}
		}
	}

	for _, c := range seed.Channels {
		channelID, err := db.SaveChannel(ctx, &types.Channel{
			ID:            c.ID,
			Name:          c.Name,
			ChannelNumber: c.Number,
			UserLevel:     c.UserLevel,
			EPGDataID:     c.EPGDataID,
			TVGID:         c.TVGID,
			LogoURL:       c.LogoURL,
		})
		if err != nil {
			return err
		}
		for ord, streamID := range c.Streams {
			if err := db.LinkStream(ctx, channelID, streamID, ord); err != nil {
				return err
			}
		}
	}

	for _, u := range seed.Users {
		if _, err := db.SaveUser(ctx, &types.User{
			Username:      u.Username,
			UserLevel:     u.UserLevel,
			CatchupSecret: u.CatchupSecret,
		}, u.Properties); err != nil {
			return err
		}
	}

	logger.Info("{database - Seed} Imported %d accounts, %d streams, %d channels, %d users",
		len(seed.Accounts), len(seed.Streams), len(seed.Channels), len(seed.Users))
	return nil
}
