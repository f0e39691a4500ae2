package repositories

import (
	"context"
	"errors"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/bbernstein/lacylights-engine/internal/database/models"
)

// PresetRepository handles preset data access.
type PresetRepository struct {
	db *gorm.DB
}

// NewPresetRepository creates a new PresetRepository.
func NewPresetRepository(db *gorm.DB) *PresetRepository {
	return &PresetRepository{db: db}
}

func byPresetOrder(db *gorm.DB) *gorm.DB {
	return db.Order("preset_order ASC")
}

// FindAll returns all presets with their values, ordered by name.
func (r *PresetRepository) FindAll(ctx context.Context) ([]models.Preset, error) {
	var presets []models.Preset
	result := r.db.WithContext(ctx).
		Preload("Values", byPresetOrder).
		Order("name ASC").
		Find(&presets)
	return presets, result.Error
}

// FindByName returns a preset by name.
func (r *PresetRepository) FindByName(ctx context.Context, name string) (*models.Preset, error) {
	var preset models.Preset
	result := r.db.WithContext(ctx).
		Preload("Values", byPresetOrder).
		First(&preset, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &preset, nil
}

// Save creates the named preset or replaces its values in a transaction.
func (r *PresetRepository) Save(ctx context.Context, name string, values []models.PresetValue) (*models.Preset, error) {
	var preset models.Preset
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.First(&preset, "name = ?", name)
		switch {
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			preset = models.Preset{ID: cuid.New(), Name: name}
			if err := tx.Create(&preset).Error; err != nil {
				return err
			}
		case result.Error != nil:
			return result.Error
		default:
			if err := tx.Delete(&models.PresetValue{}, "preset_id = ?", preset.ID).Error; err != nil {
				return err
			}
			if err := tx.Save(&preset).Error; err != nil {
				return err
			}
		}

		if len(values) > 0 {
			for i := range values {
				values[i].ID = cuid.New()
				values[i].PresetID = preset.ID
				values[i].PresetOrder = i
			}
			if err := tx.Create(&values).Error; err != nil {
				return err
			}
		}
		preset.Values = values
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &preset, nil
}

// Delete deletes a preset and its values by name.
func (r *PresetRepository) Delete(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var preset models.Preset
		result := tx.First(&preset, "name = ?", name)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil
		}
		if result.Error != nil {
			return result.Error
		}
		if err := tx.Delete(&models.PresetValue{}, "preset_id = ?", preset.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&preset).Error
	})
}
