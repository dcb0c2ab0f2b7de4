// Package report renders ledger data for terminals.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/hylla/herbchain/internal/domain"
)

var (
	rootStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7AA2F7"))
	stageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ECE6A"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A9B1D6"))
	branchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#565F89")).MarginRight(1)
)

// Trace renders the journey behind a consumer code as a tree rooted at the package.
func Trace(t domain.ProvenanceTree) string {
	product := t.Product
	productLabel := stageStyle.Render("product " + product.Code)
	if m := product.Manufacturing; m != nil {
		productLabel += detailStyle.Render(fmt.Sprintf("  %s, %d units by %s", m.ProductName, m.TotalQuantity, product.OwnerID))
	}
	productNode := tree.Root(productLabel)

	for _, batch := range t.Batches {
		batchNode := tree.Root(stageStyle.Render("batch "+batch.Entry.BatchCode) +
			detailStyle.Render(fmt.Sprintf("  %d used", batch.Entry.Quantity)))
		if test := batch.Test.Test; test != nil {
			batchNode.Child(detailStyle.Render(fmt.Sprintf("tested by %s: purity %.1f%%, grade %s, accepted %d, rejected %d",
				actorLabel(batch.Tester), test.Purity, fallback(test.Grade, "-"), test.Accepted, test.Rejected)))
		}
		if c := batch.Collection.Collection; c != nil {
			collection := tree.Root(stageStyle.Render("collection") +
				detailStyle.Render(fmt.Sprintf("  %d %s %s", c.Quantity, c.Unit, c.Material)))
			collection.Child(
				detailStyle.Render("collected by "+actorLabel(batch.Collector)),
				detailStyle.Render(fmt.Sprintf("at %s (%.4f, %.4f) on %s",
					fallback(c.Location, "unknown site"), c.Coordinates.Latitude, c.Coordinates.Longitude, c.CollectedAt.Format("2006-01-02"))),
			)
			batchNode.Child(collection)
		}
		productNode.Child(batchNode)
	}

	root := tree.Root(rootStyle.Render("package " + t.ConsumerCode)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(branchStyle).
		Child(productNode)
	if p := t.Packaging.Packaging; p != nil && p.VerifiedAt != nil {
		root.Child(detailStyle.Render(fmt.Sprintf("verified %s by %s", p.VerifiedAt.UTC().Format("2006-01-02 15:04"), t.Packaging.OwnerID)))
	}
	return root.String()
}

func actorLabel(a domain.Actor) string {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return a.ID
	}
	if company := strings.TrimSpace(a.Company); company != "" {
		return fmt.Sprintf("%s (%s)", name, company)
	}
	return name
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
