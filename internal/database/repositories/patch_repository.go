package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bbernstein/lacylights-engine/internal/database/models"
	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

// PatchRepository handles patched fixture data access.
type PatchRepository struct {
	db *gorm.DB
}

// NewPatchRepository creates a new PatchRepository.
func NewPatchRepository(db *gorm.DB) *PatchRepository {
	return &PatchRepository{db: db}
}

// FindAll returns every patched fixture with its channels, ordered by address.
func (r *PatchRepository) FindAll(ctx context.Context) ([]models.PatchedFixture, error) {
	var fixtures []models.PatchedFixture
	result := r.db.WithContext(ctx).
		Preload("Channels", byOffset).
		Order("universe ASC").
		Order("start_channel ASC").
		Find(&fixtures)
	return fixtures, result.Error
}

// offset is an SQL keyword, so the column is quoted through clause.
func byOffset(db *gorm.DB) *gorm.DB {
	return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "offset"}})
}

// FindByID returns a patched fixture by ID.
func (r *PatchRepository) FindByID(ctx context.Context, id string) (*models.PatchedFixture, error) {
	var f models.PatchedFixture
	result := r.db.WithContext(ctx).
		Preload("Channels", byOffset).
		First(&f, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &f, nil
}

// Replace deletes the whole patch and stores fixtures in its place.
func (r *PatchRepository) Replace(ctx context.Context, fixtures []models.PatchedFixture) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.PatchedChannel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&models.PatchedFixture{}).Error; err != nil {
			return err
		}
		for i := range fixtures {
			if err := createFixture(tx, &fixtures[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func createFixture(tx *gorm.DB, f *models.PatchedFixture) error {
	if f.ID == "" {
		f.ID = cuid.New()
	}
	channels := f.Channels
	f.Channels = nil
	if err := tx.Create(f).Error; err != nil {
		return err
	}

	if len(channels) > 0 {
		for i := range channels {
			if channels[i].ID == "" {
				channels[i].ID = cuid.New()
			}
			channels[i].FixtureID = f.ID
		}
		if err := tx.Create(&channels).Error; err != nil {
			return err
		}
	}
	f.Channels = channels
	return nil
}

// LoadPatch builds the in-memory patch the output engine resolves against.
func (r *PatchRepository) LoadPatch(ctx context.Context) (*fixture.MemoryPatch, error) {
	rows, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	fixtures := make([]*fixture.Fixture, 0, len(rows))
	for _, row := range rows {
		fx, err := ToFixture(row)
		if err != nil {
			return nil, err
		}
		fixtures = append(fixtures, fx)
	}
	return fixture.NewMemoryPatch(fixtures...)
}

// ToFixture converts a stored fixture to the engine representation.
func ToFixture(row models.PatchedFixture) (*fixture.Fixture, error) {
	universe, err := dmx.NewUniverseID(row.Universe)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", row.ID, err)
	}
	fx := &fixture.Fixture{
		ID:       fixture.ID(row.ID),
		Name:     row.Name,
		Mode:     row.ModeName,
		Universe: universe,
	}
	start, err := dmx.NewChannel(row.StartChannel)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", row.ID, err)
	}
	fx.StartChannel = start

	for _, ch := range row.Channels {
		attr, err := fixture.ParseAttribute(ch.Attribute)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", row.ID, err)
		}
		offsets := []int{ch.Offset}
		if ch.FineOffset != nil {
			offsets = append(offsets, *ch.FineOffset)
		}
		fx.Channels = append(fx.Channels, fixture.ChannelMapping{
			Attribute: attr,
			Offsets:   offsets,
			Default:   fixture.NewAttributeValue(ch.DefaultValue),
		})
	}
	return fx, nil
}

// FromFixture converts an engine fixture to its stored form. Mappings wider than
// two bytes cannot be stored.
func FromFixture(fx *fixture.Fixture) (models.PatchedFixture, error) {
	row := models.PatchedFixture{
		ID:           string(fx.ID),
		Name:         fx.Name,
		ModeName:     fx.Mode,
		Universe:     int(fx.Universe),
		StartChannel: int(fx.StartChannel),
	}
	for _, m := range fx.Channels {
		if m.Resolution() < 1 || m.Resolution() > 2 {
			return models.PatchedFixture{}, fmt.Errorf("fixture %s %s: %w", fx.ID, m.Attribute, fixture.ErrResolution)
		}
		ch := models.PatchedChannel{
			Attribute:    m.Attribute.String(),
			Offset:       m.Offsets[0],
			DefaultValue: m.Default.Float(),
		}
		if m.Resolution() == 2 {
			fine := m.Offsets[1]
			ch.FineOffset = &fine
		}
		row.Channels = append(row.Channels, ch)
	}
	return row, nil
}
