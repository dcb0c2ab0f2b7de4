package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hylla/herbchain/internal/domain"
)

// CodeGenerator mints PREFIX-YEAR-SEQ codes from a durable sequencer.
type CodeGenerator struct {
	clock     Clock
	fixedYear int
	metrics   Metrics
}

// NewCodeGenerator constructs a generator. fixedYear of zero follows the clock.
func NewCodeGenerator(clock Clock, fixedYear int, metrics Metrics) *CodeGenerator {
	if clock == nil {
		clock = time.Now
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &CodeGenerator{clock: clock, fixedYear: fixedYear, metrics: metrics}
}

// Year returns the year segment used when the caller does not supply one.
func (g *CodeGenerator) Year() int {
	if g.fixedYear > 0 {
		return g.fixedYear
	}
	return g.clock().UTC().Year()
}

// Mint derives a prefix from seed and takes the next sequence value for that prefix and year.
// A year of zero uses Year().
func (g *CodeGenerator) Mint(ctx context.Context, seq Sequencer, seed string, year int) (string, error) {
	prefix, err := domain.CodePrefix(seed)
	if err != nil {
		return "", err
	}
	return g.MintPrefix(ctx, seq, prefix, year)
}

// MintPrefix takes the next sequence value for an explicit prefix.
func (g *CodeGenerator) MintPrefix(ctx context.Context, seq Sequencer, prefix string, year int) (string, error) {
	if err := domain.ValidatePrefix(prefix); err != nil {
		return "", err
	}
	if year == 0 {
		year = g.Year()
	}
	if err := domain.ValidateYear(year); err != nil {
		return "", err
	}
	n, err := seq.NextSequence(ctx, prefix, year)
	if err != nil {
		return "", fmt.Errorf("next sequence for %s-%d: %w", prefix, year, err)
	}
	g.metrics.CodeMinted(prefix)
	return domain.FormatCode(prefix, year, n), nil
}

// MintCode mints a standalone code outside any record transaction.
func (s *Service) MintCode(ctx context.Context, seed string, year int) (string, error) {
	started := s.clock()
	code, err := s.codes.Mint(ctx, s.ledger, seed, year)
	if err != nil {
		return "", s.finish(IntentMintCode, "", started, domain.Record{}, err)
	}
	s.logger.Debug("code minted", "code", code, "seed", seed)
	return code, nil
}
