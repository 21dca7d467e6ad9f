package services

import (
	"context"
	"fmt"

	"gift-floors/models"
	"gift-floors/scraper"
	"gift-floors/utils"
)

// RegistryBuilder discovers the models of a collection without fetching prices.
type RegistryBuilder struct {
	source   scraper.Source
	resolver *Resolver
	retry    *utils.RetryConfig
	logger   *utils.Logger
}

// NewRegistryBuilder creates a RegistryBuilder.
func NewRegistryBuilder(source scraper.Source, resolver *Resolver, retry *utils.RetryConfig, logger *utils.Logger) *RegistryBuilder {
	return &RegistryBuilder{source: source, resolver: resolver, retry: retry, logger: logger}
}

// Build returns the collection's models in feed order. Nameless records are
// dropped and repeated names keep the first occurrence. An empty registry is
// not an error.
func (b *RegistryBuilder) Build(ctx context.Context, col models.Collection) ([]models.ModelDescriptor, error) {
	var raw []scraper.RawModel
	err := b.retry.Do(ctx, "models "+col.Title, func(ctx context.Context) error {
		var err error
		raw, err = b.source.ListModels(ctx, col.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("registry %q: %w: %w", col.Title, ErrSourceUnavailable, err)
	}

	seen := utils.NewStringSet()
	out := make([]models.ModelDescriptor, 0, len(raw))
	for _, r := range raw {
		m, ok := b.resolver.ResolveModel(r)
		if !ok {
			b.logger.Debug("[registry] %s: dropping nameless model record", col.Title)
			continue
		}
		if !seen.Add(m.Name) {
			b.logger.Debug("[registry] %s: duplicate model %q skipped", col.Title, m.Name)
			continue
		}
		out = append(out, m)
	}

	b.logger.Debug("[registry] %s: %d models", col.Title, len(out))
	return out, nil
}
