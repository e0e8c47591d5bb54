// Package parser re-derives structured hotel fields from stored raw
// provider payloads. Parsers are selected by (provider, tag) through an
// explicit registry; adding a provider means registering an
// implementation.
package parser

import (
	"errors"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// ErrEmptyResult is returned when a parse yields no usable name fields,
// which usually indicates a parser regression rather than a bad record.
var ErrEmptyResult = errors.New("parser: parse produced no name fields")

// Parser extracts structured fields from one raw payload.
type Parser interface {
	Parse(raw string) (models.ParsedHotel, error)
}

type registryKey struct {
	provider string
	tag      string
}

// Registry maps (provider, tag) pairs to parsers.
type Registry struct {
	parsers map[registryKey]Parser
}

// NewRegistry returns a registry with the built-in provider parsers
// registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[registryKey]Parser)}
	r.Register(models.ProviderElong, models.TagCN, &ElongParser{})
	r.Register(models.ProviderAgoda, models.TagINTL, &AgodaParser{})
	r.Register(models.ProviderAgoda, models.TagHMT, &AgodaParser{})
	return r
}

// Register binds a parser to a (provider, tag) pair.
func (r *Registry) Register(provider, tag string, p Parser) {
	r.parsers[registryKey{provider: provider, tag: tag}] = p
}

// Select returns the parser for a (provider, tag) pair. HMT records
// without a dedicated parser fall back to the international Agoda
// parser, matching how the supplier tags that market segment.
func (r *Registry) Select(provider, tag string) (Parser, bool) {
	if p, ok := r.parsers[registryKey{provider: provider, tag: tag}]; ok {
		return p, true
	}
	if tag == models.TagHMT {
		p, ok := r.parsers[registryKey{provider: models.ProviderAgoda, tag: models.TagINTL}]
		return p, ok
	}
	return nil, false
}
