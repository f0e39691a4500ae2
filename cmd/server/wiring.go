package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bbernstein/lacylights-engine/internal/config"
	"github.com/bbernstein/lacylights-engine/internal/database/models"
	"github.com/bbernstein/lacylights-engine/internal/database/repositories"
	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/internal/services/artnet"
	"github.com/bbernstein/lacylights-engine/internal/services/output"
	"github.com/bbernstein/lacylights-engine/internal/services/sacn"
	artnetpkt "github.com/bbernstein/lacylights-engine/pkg/artnet"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
	e131 "github.com/bbernstein/lacylights-engine/pkg/sacn"
)

// settingCID is the settings key holding the installation CID.
const settingCID = "sacn_cid"

// loadPatch replaces the stored patch with the configured one, if any, and loads it.
func loadPatch(ctx context.Context, repo *repositories.PatchRepository, cfg *config.Config, log *logger.Log) (*fixture.MemoryPatch, error) {
	if len(cfg.Patch) > 0 {
		rows := make([]models.PatchedFixture, 0, len(cfg.Patch))
		for _, fc := range cfg.Patch {
			fx, err := fc.Fixture()
			if err != nil {
				return nil, err
			}
			row, err := repositories.FromFixture(fx)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		if err := repo.Replace(ctx, rows); err != nil {
			return nil, err
		}
		log.WithField("fixtures", len(rows)).Info("Patch replaced from configuration")
	}

	patch, err := repo.LoadPatch(ctx)
	if err != nil {
		return nil, err
	}
	log.WithFields(map[string]interface{}{
		"fixtures":  len(patch.Fixtures()),
		"universes": len(patch.Universes()),
	}).Info("Patch loaded")
	return patch, nil
}

// installationCID returns the configured CID, or the one persisted in settings,
// generating it on first start.
func installationCID(ctx context.Context, settings *repositories.SettingRepository, cfg *config.Config) (uuid.UUID, error) {
	if cfg.SACN.CID != "" {
		return uuid.Parse(cfg.SACN.CID)
	}
	value, _, err := settings.FindOrCreate(ctx, settingCID, func() string {
		return uuid.NewString()
	})
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(value)
}

// sourceConfig converts one configured source. Values that would not survive narrowing
// are rejected here; sacn.Config.Validate checks the rest when the source is built.
func sourceConfig(sc config.SourceConfig, installation uuid.UUID) (sacn.Config, error) {
	if sc.Priority < 0 || sc.Priority > int(e131.MaxPriority) {
		return sacn.Config{}, fmt.Errorf("%w: %d", sacn.ErrPriority, sc.Priority)
	}
	if sc.SyncAddress < 0 || sc.SyncAddress > int(e131.MaxUniverse) {
		return sacn.Config{}, fmt.Errorf("%w: sync address %d", sacn.ErrUniverse, sc.SyncAddress)
	}
	cfg := sacn.Config{
		Name:        sc.Name,
		CID:         sacn.DeriveCID(installation, sc.Name),
		Destination: sc.Destination,
		Priority:    uint8(sc.Priority),
		Preview:     sc.Preview,
		SyncAddress: uint16(sc.SyncAddress),
		ForceSync:   sc.ForceSync,
	}
	for _, u := range sc.Universes {
		dest := u.Destination
		if dest == 0 {
			dest = u.Local
		}
		local, err := dmx.NewUniverseID(u.Local)
		if err != nil {
			return sacn.Config{}, fmt.Errorf("%w: local %d", sacn.ErrUniverse, u.Local)
		}
		if dest < 1 || dest > int(e131.MaxUniverse) {
			return sacn.Config{}, fmt.Errorf("%w: destination %d", sacn.ErrUniverse, dest)
		}
		cfg.Universes = append(cfg.Universes, sacn.UniverseMap{
			Local:       local,
			Destination: uint16(dest),
		})
	}
	return cfg, nil
}

// buildSources starts every configured sACN source. A source that fails to start
// is logged and left out.
func buildSources(cfg *config.Config, installation uuid.UUID, log *logger.Log) []output.Transmitter {
	var out []output.Transmitter
	for _, sc := range cfg.SACN.Sources {
		scfg, err := sourceConfig(sc, installation)
		var src *sacn.Source
		if err == nil {
			src, err = sacn.NewSource(scfg, log)
		}
		if err == nil {
			err = src.Start()
		}
		if err != nil {
			log.WithError(err).WithField("source", sc.Name).Error("sACN source not started")
			continue
		}
		out = append(out, output.SacnTransmitter(src))
	}
	return out
}

// nodeConfig uses the explicit port-address when any part is set, otherwise the
// universe maps 1:1 with universe 1 at 0:0:0.
func nodeConfig(nc config.NodeConfig) (artnet.Config, error) {
	var (
		port artnetpkt.PortAddress
		err  error
	)
	if nc.Net != 0 || nc.SubNet != 0 || nc.PortUniverse != 0 {
		port, err = artnetpkt.NewPortAddress(nc.Net, nc.SubNet, nc.PortUniverse)
	} else {
		port, err = artnetpkt.PortAddressFromUniverse(nc.Universe)
	}
	if err != nil {
		return artnet.Config{}, fmt.Errorf("artnet node %q: %w", nc.Name, err)
	}
	universe, err := dmx.NewUniverseID(nc.Universe)
	if err != nil {
		return artnet.Config{}, fmt.Errorf("artnet node %q: %w", nc.Name, err)
	}
	return artnet.Config{
		Name:        nc.Name,
		Destination: nc.Destination,
		Universe:    universe,
		PortAddress: port,
	}, nil
}

// buildNodes opens every configured Art-Net output. Failures are logged and skipped.
func buildNodes(cfg *config.Config, log *logger.Log) []output.Transmitter {
	var out []output.Transmitter
	for _, nc := range cfg.ArtNet.Nodes {
		acfg, err := nodeConfig(nc)
		if err != nil {
			log.WithError(err).Error("Art-Net output not opened")
			continue
		}
		tx, err := artnet.NewTransmitter(acfg, log)
		if err != nil {
			log.WithError(err).WithField("node", nc.Name).Error("Art-Net output not opened")
			continue
		}
		out = append(out, output.ArtnetTransmitter(tx))
	}
	return out
}

func outputStatuses(s *output.Scheduler) func() []output.Status {
	return func() []output.Status {
		txs := s.Transmitters()
		out := make([]output.Status, 0, len(txs))
		for _, tx := range txs {
			out = append(out, tx.Status())
		}
		return out
	}
}
