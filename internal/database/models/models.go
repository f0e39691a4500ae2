// Package models contains the database model definitions.
// These models map directly to the SQLite database tables.
package models

import (
	"time"
)

// PatchedFixture is a fixture instance placed on a universe.
// Table: patched_fixtures
type PatchedFixture struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Name         string    `gorm:"column:name"`
	ModeName     string    `gorm:"column:mode_name"`
	Universe     int       `gorm:"column:universe;index"`
	StartChannel int       `gorm:"column:start_channel"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`

	// Relations
	Channels []PatchedChannel `gorm:"foreignKey:FixtureID;constraint:OnDelete:CASCADE"`
}

func (PatchedFixture) TableName() string { return "patched_fixtures" }

// PatchedChannel maps one attribute of a patched fixture to its channel offsets.
// Table: patched_channels
type PatchedChannel struct {
	ID           string  `gorm:"column:id;primaryKey"`
	FixtureID    string  `gorm:"column:fixture_id;index"`
	Attribute    string  `gorm:"column:attribute"` // e.g. "Dimmer", "Shutter(2)"
	Offset       int     `gorm:"column:offset"`    // 0-based from the start channel
	FineOffset   *int    `gorm:"column:fine_offset"`
	DefaultValue float64 `gorm:"column:default_value;default:0"`
}

func (PatchedChannel) TableName() string { return "patched_channels" }

// Preset is a named set of attribute values recalled into the presets layer.
// Table: presets
type Preset struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	// Relations
	Values []PresetValue `gorm:"foreignKey:PresetID;constraint:OnDelete:CASCADE"`
}

func (Preset) TableName() string { return "presets" }

// PresetValue is one attribute level stored in a preset.
// Table: preset_values
type PresetValue struct {
	ID          string  `gorm:"column:id;primaryKey"`
	PresetID    string  `gorm:"column:preset_id;index"`
	FixtureID   string  `gorm:"column:fixture_id"`
	Attribute   string  `gorm:"column:attribute"`
	Value       float64 `gorm:"column:value"`
	PresetOrder int     `gorm:"column:preset_order"`
}

func (PresetValue) TableName() string { return "preset_values" }

// Setting represents a system setting.
// Table: settings
type Setting struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&PatchedFixture{},
		&PatchedChannel{},
		&Preset{},
		&PresetValue{},
		&Setting{},
	}
}
