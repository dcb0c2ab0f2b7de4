package domain

import "fmt"

// ProvenanceTree is the resolved ancestry of a consumer code. Leaves are collections paired with their collector.
type ProvenanceTree struct {
	ConsumerCode string
	Packaging    Record
	Product      Record
	Batches      []ProvenanceBatch
}

// ProvenanceBatch is one composition branch of a product.
type ProvenanceBatch struct {
	Entry      CompositionEntry
	Test       Record
	Tester     Actor
	Collection Record
	Collector  Actor
}

// ProvenanceLeaf pairs an origin collection with the actor who recorded it.
type ProvenanceLeaf struct {
	Collection Record
	Collector  Actor
}

// Leaves returns the origin collections in composition order.
func (t ProvenanceTree) Leaves() []ProvenanceLeaf {
	out := make([]ProvenanceLeaf, 0, len(t.Batches))
	for _, batch := range t.Batches {
		out = append(out, ProvenanceLeaf{Collection: batch.Collection, Collector: batch.Collector})
	}
	return out
}

// Verify walks every root-to-leaf path and fails if a link is missing, mistyped, or repeats an ancestor.
func (t ProvenanceTree) Verify() error {
	if t.Packaging.Kind != KindPackaging || t.Packaging.Packaging == nil {
		return fmt.Errorf("%w: root is not a packaging record", ErrBrokenProvenance)
	}
	if t.Product.Kind != KindManufacturing || t.Product.Manufacturing == nil {
		return fmt.Errorf("%w: packaging %s has no product", ErrBrokenProvenance, t.Packaging.ID)
	}
	if t.Packaging.Packaging.ManufacturingID != t.Product.ID {
		return fmt.Errorf("%w: packaging %s points at %s, resolved %s", ErrBrokenProvenance, t.Packaging.ID, t.Packaging.Packaging.ManufacturingID, t.Product.ID)
	}
	if len(t.Batches) != len(t.Product.Manufacturing.Composition) {
		return fmt.Errorf("%w: product %s has %d batches, resolved %d", ErrBrokenProvenance, t.Product.ID, len(t.Product.Manufacturing.Composition), len(t.Batches))
	}
	for i, batch := range t.Batches {
		path := map[string]struct{}{t.Packaging.ID: {}}
		for _, id := range []string{t.Product.ID, batch.Test.ID, batch.Collection.ID} {
			if id == "" {
				return fmt.Errorf("%w: batch %d has an empty link", ErrBrokenProvenance, i)
			}
			if _, seen := path[id]; seen {
				return fmt.Errorf("%w: %s appears as its own ancestor", ErrBrokenProvenance, id)
			}
			path[id] = struct{}{}
		}
		if batch.Test.Kind != KindTest || batch.Test.Test == nil {
			return fmt.Errorf("%w: batch %s is not a test record", ErrBrokenProvenance, batch.Entry.BatchCode)
		}
		if batch.Collection.Kind != KindCollection || batch.Collection.Collection == nil {
			return fmt.Errorf("%w: batch %s has no collection", ErrBrokenProvenance, batch.Entry.BatchCode)
		}
		if batch.Test.Test.CollectionID != batch.Collection.ID {
			return fmt.Errorf("%w: test %s points at %s, resolved %s", ErrBrokenProvenance, batch.Test.ID, batch.Test.Test.CollectionID, batch.Collection.ID)
		}
		if batch.Collector.ID == "" || batch.Collector.ID != batch.Collection.OwnerID {
			return fmt.Errorf("%w: collection %s has no resolved collector", ErrBrokenProvenance, batch.Collection.ID)
		}
	}
	return nil
}
