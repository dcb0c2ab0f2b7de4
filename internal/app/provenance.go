package app

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hylla/herbchain/internal/domain"
)

// provenanceFanOut bounds concurrent branch lookups.
const provenanceFanOut = 8

// ResolveProvenance rebuilds the full origin tree behind a consumer code.
func (s *Service) ResolveProvenance(ctx context.Context, consumerCode string) (domain.ProvenanceTree, error) {
	started := s.clock()
	tree, err := func() (domain.ProvenanceTree, error) {
		code := strings.ToUpper(strings.TrimSpace(consumerCode))
		if code == "" {
			return domain.ProvenanceTree{}, ErrCodeRequired
		}
		pkg, err := s.ledger.FindByCode(ctx, code)
		if err != nil {
			return domain.ProvenanceTree{}, fmt.Errorf("consumer code %s: %w", code, err)
		}
		if pkg.Kind != domain.KindPackaging || pkg.Status != domain.StatusPackaged {
			return domain.ProvenanceTree{}, fmt.Errorf("%w: %s is not a consumer code", domain.ErrNotFound, code)
		}
		return s.resolveTree(ctx, s.ledger, pkg, provenanceFanOut)
	}()
	if err := s.finish(IntentResolveProvenance, "", started, tree.Packaging, err); err != nil {
		return domain.ProvenanceTree{}, err
	}
	return tree, nil
}

// resolveTree follows pkg back to every origin collection. limit caps concurrent branches.
func (s *Service) resolveTree(ctx context.Context, r LedgerReader, pkg domain.Record, limit int) (domain.ProvenanceTree, error) {
	if pkg.Packaging == nil {
		return domain.ProvenanceTree{}, fmt.Errorf("%w: %s has no packaging payload", domain.ErrBrokenProvenance, pkg.ID)
	}
	product, err := r.Get(ctx, pkg.Packaging.ManufacturingID)
	if err != nil {
		return domain.ProvenanceTree{}, brokenLink("product", pkg.Packaging.ManufacturingID, err)
	}
	if product.Kind != domain.KindManufacturing || product.Manufacturing == nil {
		return domain.ProvenanceTree{}, fmt.Errorf("%w: %s is not a manufacturing record", domain.ErrBrokenProvenance, product.ID)
	}

	composition := product.Manufacturing.Composition
	batches := make([]domain.ProvenanceBatch, len(composition))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i, entry := range composition {
		g.Go(func() error {
			batch, err := s.resolveBatch(gctx, r, entry, map[string]struct{}{pkg.ID: {}, product.ID: {}})
			if err != nil {
				return err
			}
			batches[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.ProvenanceTree{}, err
	}

	tree := domain.ProvenanceTree{
		ConsumerCode: pkg.Code,
		Packaging:    pkg,
		Product:      product,
		Batches:      batches,
	}
	if err := tree.Verify(); err != nil {
		return domain.ProvenanceTree{}, err
	}
	return tree, nil
}

// resolveBatch follows one composition entry to its collection and collector.
// visited holds the ancestors already on this path.
func (s *Service) resolveBatch(ctx context.Context, r LedgerReader, entry domain.CompositionEntry, visited map[string]struct{}) (domain.ProvenanceBatch, error) {
	test, err := r.Get(ctx, entry.TestRecordID)
	if err != nil {
		return domain.ProvenanceBatch{}, brokenLink("batch "+entry.BatchCode, entry.TestRecordID, err)
	}
	if err := visit(visited, test.ID); err != nil {
		return domain.ProvenanceBatch{}, err
	}
	if test.Kind != domain.KindTest || test.Test == nil || test.Code != entry.BatchCode {
		return domain.ProvenanceBatch{}, fmt.Errorf("%w: %s does not carry batch %s", domain.ErrBrokenProvenance, test.ID, entry.BatchCode)
	}
	collection, err := r.Get(ctx, test.Test.CollectionID)
	if err != nil {
		return domain.ProvenanceBatch{}, brokenLink("collection", test.Test.CollectionID, err)
	}
	if err := visit(visited, collection.ID); err != nil {
		return domain.ProvenanceBatch{}, err
	}
	collector, err := s.actors.GetActor(ctx, collection.OwnerID)
	if err != nil {
		return domain.ProvenanceBatch{}, brokenLink("collector", collection.OwnerID, err)
	}
	tester, err := s.actors.GetActor(ctx, test.OwnerID)
	if err != nil {
		return domain.ProvenanceBatch{}, brokenLink("tester", test.OwnerID, err)
	}
	return domain.ProvenanceBatch{
		Entry:      entry,
		Test:       test,
		Tester:     tester,
		Collection: collection,
		Collector:  collector,
	}, nil
}

func visit(visited map[string]struct{}, id string) error {
	if _, ok := visited[id]; ok {
		return fmt.Errorf("%w: %s appears as its own ancestor", domain.ErrBrokenProvenance, id)
	}
	visited[id] = struct{}{}
	return nil
}

// brokenLink reports a missing reference as a consistency failure rather than a lookup miss.
func brokenLink(what, id string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", domain.ErrBrokenProvenance, what, id, err)
}
