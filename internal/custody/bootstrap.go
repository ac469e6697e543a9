package custody

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/emperorhan/rwa-custody/internal/domain"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
)

// Genesis describes assets to provision at startup. Applying it is
// idempotent: existing configs, grants and entries are left alone.
type Genesis struct {
	Assets []GenesisAsset `yaml:"assets"`
}

type GenesisAsset struct {
	Asset     string         `yaml:"asset"`
	Admin     string         `yaml:"admin"`
	Decimals  uint8          `yaml:"decimals"`
	Name      string         `yaml:"name"`
	Symbol    string         `yaml:"symbol"`
	URI       string         `yaml:"uri"`
	Roles     []GenesisGrant `yaml:"roles"`
	Blacklist []string       `yaml:"blacklist"`
}

type GenesisGrant struct {
	Subject string `yaml:"subject"`
	Role    string `yaml:"role"`
}

// LoadGenesis reads a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis %s: %w", path, err)
	}
	return ParseGenesis(data)
}

func ParseGenesis(data []byte) (*Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	for i, a := range g.Assets {
		if a.Asset == "" || a.Admin == "" {
			return nil, fmt.Errorf("genesis asset #%d: asset and admin are required", i)
		}
	}
	return &g, nil
}

// Apply provisions every asset in g. Grants and blacklist entries are made
// with the asset's admin as caller.
func (s *Service) Apply(ctx context.Context, g *Genesis) error {
	for _, ga := range g.Assets {
		if err := s.applyAsset(ctx, ga); err != nil {
			return fmt.Errorf("genesis asset %s: %w", ga.Asset, err)
		}
	}
	return nil
}

func (s *Service) applyAsset(ctx context.Context, ga GenesisAsset) error {
	asset, err := model.ParseAddress(ga.Asset)
	if err != nil {
		return err
	}
	admin, err := model.ParseAddress(ga.Admin)
	if err != nil {
		return err
	}

	_, err = s.Initialize(ctx, InitializeParams{
		Asset:    asset,
		Admin:    admin,
		Decimals: ga.Decimals,
		Name:     ga.Name,
		Symbol:   ga.Symbol,
		URI:      ga.URI,
	})
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		s.logger.Info("genesis asset already initialized", "asset", asset.String())
	case err != nil:
		return err
	}

	for _, gr := range ga.Roles {
		subject, err := model.ParseAddress(gr.Subject)
		if err != nil {
			return err
		}
		role, err := model.ParseRole(gr.Role)
		if err != nil {
			return err
		}
		if err := s.GrantRole(ctx, asset, admin, subject, role); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return err
		}
	}
	for _, addr := range ga.Blacklist {
		address, err := model.ParseAddress(addr)
		if err != nil {
			return err
		}
		if err := s.AddToBlacklist(ctx, asset, admin, address); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return err
		}
	}
	return nil
}
