package main

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/overseerhq/overseer/internal/config"
	"github.com/overseerhq/overseer/internal/reason"
	"github.com/overseerhq/overseer/internal/store"
	"github.com/overseerhq/overseer/internal/system"
)

// buildSystem assembles a System from config: persistence when a database
// path is configured, and a reasoning backend when credentials are
// available. The caller owns Close.
func buildSystem(cfg *config.Config, rosterPath string) (*system.System, error) {
	var opts []system.Option

	if cfg.Storage.DBPath != "" {
		db, err := store.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		opts = append(opts, system.WithStore(db))
	}

	if r, err := buildReasoner(cfg); err != nil {
		return nil, err
	} else if r != nil {
		opts = append(opts, system.WithReasoner(r))
	}

	sys, err := system.New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	if rosterPath != "" {
		roster, err := config.LoadRoster(rosterPath)
		if err != nil {
			sys.Close()
			return nil, fmt.Errorf("load roster %s: %w", rosterPath, err)
		}
		if err := sys.ApplyRoster(roster); err != nil {
			sys.Close()
			return nil, fmt.Errorf("apply roster: %w", err)
		}
	}
	return sys, nil
}

// buildReasoner returns nil when no credentials are configured; the
// system then runs with synthesized completions, which is useful for
// dry runs and local testing.
func buildReasoner(cfg *config.Config) (reason.Reasoner, error) {
	if cfg.Anthropic.APIKey == "" && !cfg.Anthropic.UseBedrock {
		return nil, nil
	}
	client, err := reason.NewClient(reason.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning client: %w", err)
	}
	return client, nil
}
