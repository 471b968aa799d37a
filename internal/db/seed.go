package db

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"

	"newsfeed/internal/models"
)

// SeedFile - файл с административным списком источников:
//
//	[[sources]]
//	key = "bofip"
//	url = "https://bofip.impots.gouv.fr/..."
//	is_active = true
type SeedFile struct {
	Sources []models.FeedSource `toml:"sources"`
}

// LoadSeed читает TOML-файл источников.
func LoadSeed(path string) (*SeedFile, error) {
	var seed SeedFile
	if _, err := toml.DecodeFile(path, &seed); err != nil {
		return nil, fmt.Errorf("error parsing seed file: %w", err)
	}
	for i, src := range seed.Sources {
		if src.Key == "" {
			return nil, fmt.Errorf("source #%d has no key", i+1)
		}
	}
	return &seed, nil
}

// Seed записывает источники в хранилище и возвращает их число.
func Seed(ctx context.Context, store Store, seed *SeedFile) (int, error) {
	for _, src := range seed.Sources {
		if err := store.UpsertSource(ctx, src); err != nil {
			return 0, err
		}
	}
	return len(seed.Sources), nil
}
