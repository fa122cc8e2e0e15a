// ABOUTME: Bootstrap state: seed games, their authorities and world entries
// ABOUTME: Validates the whole configuration before writing anything, applies at most once

package genesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/metasave/internal/authority"
	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

// MetaApplied is the meta key recording when genesis ran.
const MetaApplied = "genesis_applied"

// Actor is recorded as the actor of genesis audit entries.
const Actor record.AccountID = "genesis"

// Config lists the games created at bootstrap.
type Config struct {
	Games []GameSeed `yaml:"games" toml:"games"`
}

// GameSeed is one bootstrap game.
type GameSeed struct {
	Name      string           `yaml:"name" toml:"name"`
	ID        record.GameID    `yaml:"id" toml:"id"`
	Authority record.AccountID `yaml:"authority" toml:"authority"`
	World     []Seed           `yaml:"world" toml:"world"`
}

// Seed is one world External entry. Exactly one of Int32 and Value is set.
type Seed struct {
	Key   string `yaml:"key" toml:"key"`
	Int32 *int32 `yaml:"int32,omitempty" toml:"int32,omitempty"`
	Value string `yaml:"value,omitempty" toml:"value,omitempty"`
}

// Entry returns the encoded entry.
func (s Seed) Entry() record.DataEntry {
	if s.Int32 != nil {
		return record.DataEntry{Key: []byte(s.Key), Value: record.EncodeInt32(*s.Int32)}
	}
	return record.DataEntry{Key: []byte(s.Key), Value: []byte(s.Value)}
}

func int32Seed(key string, v int32) Seed {
	return Seed{Key: key, Int32: &v}
}

// Default returns the conventional two games: "fps" with a Time counter
// at 1, and "platformer" with Kills and Deaths at 0.
func Default(fpsAuthority, platformerAuthority record.AccountID) Config {
	return Config{
		Games: []GameSeed{
			{
				Name:      "fps",
				ID:        1,
				Authority: fpsAuthority,
				World:     []Seed{int32Seed("Time", 1)},
			},
			{
				Name:      "platformer",
				ID:        2,
				Authority: platformerAuthority,
				World:     []Seed{int32Seed("Kills", 0), int32Seed("Deaths", 0)},
			},
		},
	}
}

// Validate checks the whole configuration. Any problem aborts bootstrap.
func (c Config) Validate() error {
	var errs []error
	names := make(map[string]bool)
	ids := make(map[record.GameID]bool)

	for i, g := range c.Games {
		label := fmt.Sprintf("genesis game %d (%q)", i, g.Name)
		if g.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else if names[g.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name", label))
		}
		names[g.Name] = true

		if ids[g.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id %s", label, g.ID))
		}
		ids[g.ID] = true

		if g.Authority == "" {
			errs = append(errs, fmt.Errorf("%s: authority is required", label))
		}

		if len(g.World) > record.MaxRecordEntries {
			errs = append(errs, fmt.Errorf("%s: %d seeds, max %d", label, len(g.World), record.MaxRecordEntries))
		}
		keys := make(map[string]bool)
		for _, s := range g.World {
			if keys[s.Key] {
				errs = append(errs, fmt.Errorf("%s: duplicate seed key %q", label, s.Key))
			}
			keys[s.Key] = true
			if s.Int32 != nil && s.Value != "" {
				errs = append(errs, fmt.Errorf("%s: seed %q sets both int32 and value", label, s.Key))
			}
			if err := s.Entry().Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s: seed %q: %w", label, s.Key, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Apply writes cfg into s in one transaction. It returns false without
// writing if genesis has already been applied or cfg has no games.
func Apply(ctx context.Context, s store.Store, reg *authority.Registry, cfg Config, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = authority.NewRegistry(logger)
	}
	logger = logger.With("component", "genesis")

	if err := cfg.Validate(); err != nil {
		return false, err
	}
	if len(cfg.Games) == 0 {
		return false, nil
	}

	applied := false
	err := s.Update(ctx, func(tx store.Tx) error {
		if _, done, err := tx.Meta(ctx, MetaApplied); err != nil || done {
			return err
		}

		for _, g := range cfg.Games {
			exists, err := reg.GameExists(ctx, tx, g.ID)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("genesis game %q: id %s: %w", g.Name, g.ID, record.ErrAlreadyRegistered)
			}
			if err := reg.Grant(ctx, tx, g.Authority, g.ID, record.AccessInternalExternal); err != nil {
				return fmt.Errorf("genesis game %q: %w", g.Name, err)
			}

			rec := record.DataRecord{}
			for _, seed := range g.World {
				if rec, err = rec.Upsert(seed.Entry()); err != nil {
					return fmt.Errorf("genesis game %q: %w", g.Name, err)
				}
			}
			if err := tx.PutWorldRecord(ctx, g.ID, record.RouteExternal, rec); err != nil {
				return err
			}

			if err := tx.AppendAudit(ctx, &store.AuditEntry{
				Actor:  Actor,
				Action: store.AuditGenesis,
				Game:   g.ID,
				Target: g.Authority,
				Detail: map[string]any{"name": g.Name, "seeds": len(g.World)},
			}); err != nil {
				return err
			}
		}

		applied = true
		return tx.PutMeta(ctx, MetaApplied, time.Now().UTC().Format(time.RFC3339))
	})
	if err != nil {
		return false, fmt.Errorf("applying genesis: %w", err)
	}

	if applied {
		logger.Info("genesis applied", "games", len(cfg.Games))
	} else {
		logger.Debug("genesis already applied")
	}
	return applied, nil
}
