package store

import (
	"gorm.io/gorm"

	"github.com/arvlabs/arv/internal/model"
)

// PresetStore defines operations for process-wide agent presets.
type PresetStore interface {
	Create(preset *model.Preset) error
	GetByID(id uint) (*model.Preset, error)
	GetByName(name string) (*model.Preset, error)
	List() ([]model.Preset, error)
	Update(preset *model.Preset) error
	Delete(id uint) error
}

// presetStore implements PresetStore using GORM.
type presetStore struct {
	db *gorm.DB
}

func newPresetStore(db *gorm.DB) PresetStore {
	return &presetStore{db: db}
}

func (s *presetStore) Create(preset *model.Preset) error {
	return s.db.Create(preset).Error
}

func (s *presetStore) GetByID(id uint) (*model.Preset, error) {
	var preset model.Preset
	if err := s.db.First(&preset, id).Error; err != nil {
		return nil, err
	}
	return &preset, nil
}

func (s *presetStore) GetByName(name string) (*model.Preset, error) {
	var preset model.Preset
	if err := s.db.First(&preset, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &preset, nil
}

func (s *presetStore) List() ([]model.Preset, error) {
	var presets []model.Preset
	err := s.db.Order("id ASC").Find(&presets).Error
	return presets, err
}

func (s *presetStore) Update(preset *model.Preset) error {
	return s.db.Save(preset).Error
}

func (s *presetStore) Delete(id uint) error {
	return s.db.Delete(&model.Preset{}, id).Error
}
