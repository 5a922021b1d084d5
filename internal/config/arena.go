package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Arena describes the patrolled area and its roster.
type Arena struct {
	AreaID       uint64   `yaml:"area_id"`
	WaypointType uint64   `yaml:"waypoint_element_type"`
	Characters   []uint64 `yaml:"characters"`
	WeaponType   string   `yaml:"weapon_type"`
	AmmoType     string   `yaml:"ammo_type"`
}

// DefaultArena is used when no arena file exists.
func DefaultArena() Arena {
	return Arena{
		AreaID:       1000215,
		WaypointType: 2012928469,
		Characters:   []uint64{10002, 10003, 10004, 10005, 10006},
		WeaponType:   "WeaponLaserExtraSmallAgile3",
		AmmoType:     "AmmoLaserExtraSmallThermicAdvancedAgile",
	}
}

// LoadArena reads the arena file at path. A missing file yields DefaultArena;
// fields left out of the file keep their defaults.
func LoadArena(path string) (Arena, error) {
	cfg := DefaultArena()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Arena{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Arena{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Arena{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the arena for unusable values.
func (a Arena) Validate() error {
	if a.AreaID == 0 {
		return errors.New("area_id must be set")
	}
	if len(a.Characters) == 0 {
		return errors.New("at least one character is required")
	}
	seen := make(map[uint64]bool, len(a.Characters))
	for _, id := range a.Characters {
		if id == 0 {
			return errors.New("character id must not be 0")
		}
		if seen[id] {
			return fmt.Errorf("duplicate character %d", id)
		}
		seen[id] = true
	}
	return nil
}
