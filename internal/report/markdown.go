package report

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/domain"
)

// ProvenanceMarkdown builds a markdown certificate for one consumer code.
func ProvenanceMarkdown(t domain.ProvenanceTree) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Provenance of %s\n\n", t.ConsumerCode)
	if m := t.Product.Manufacturing; m != nil {
		fmt.Fprintf(&b, "**Product:** %s (`%s`), %d units, manufactured by `%s`\n\n", m.ProductName, t.Product.Code, m.TotalQuantity, t.Product.OwnerID)
		if desc := strings.TrimSpace(m.Description); desc != "" {
			fmt.Fprintf(&b, "> %s\n\n", desc)
		}
	}
	if p := t.Packaging.Packaging; p != nil && p.VerifiedAt != nil {
		fmt.Fprintf(&b, "**Packaged by:** `%s`, verified %s\n\n", t.Packaging.OwnerID, p.VerifiedAt.UTC().Format("2006-01-02 15:04 MST"))
	}

	b.WriteString("## Batches\n\n")
	b.WriteString("| Batch | Used | Purity | Grade | Tester | Material | Origin | Collector |\n")
	b.WriteString("|---|---:|---:|---|---|---|---|---|\n")
	for _, batch := range t.Batches {
		purity, grade := "-", "-"
		if test := batch.Test.Test; test != nil {
			purity = fmt.Sprintf("%.1f%%", test.Purity)
			grade = fallback(test.Grade, "-")
		}
		material, origin := "-", "-"
		if c := batch.Collection.Collection; c != nil {
			material = fmt.Sprintf("%d %s %s", c.Quantity, c.Unit, c.Material)
			origin = fmt.Sprintf("%s (%.4f, %.4f)", fallback(c.Location, "unknown site"), c.Coordinates.Latitude, c.Coordinates.Longitude)
		}
		fmt.Fprintf(&b, "| `%s` | %d | %s | %s | %s | %s | %s | %s |\n",
			batch.Entry.BatchCode, batch.Entry.Quantity, purity, grade, actorLabel(batch.Tester), material, origin, actorLabel(batch.Collector))
	}
	return b.String()
}

// SummaryMarkdown builds the auditor overview of the ledger.
func SummaryMarkdown(s app.Summary) string {
	var b strings.Builder
	b.WriteString("# Ledger summary\n\n")
	fmt.Fprintf(&b, "**Records:** %d\n\n", s.TotalRecords)

	b.WriteString("## Actors\n\n| Role | Count |\n|---|---:|\n")
	roles := make([]string, 0, len(s.ActorsByRole))
	for role := range s.ActorsByRole {
		roles = append(roles, string(role))
	}
	slices.Sort(roles)
	for _, role := range roles {
		fmt.Fprintf(&b, "| %s | %d |\n", role, s.ActorsByRole[domain.Role(role)])
	}

	b.WriteString("\n## Records\n\n| Kind | Status | Count |\n|---|---|---:|\n")
	for _, kind := range domain.RecordKinds() {
		statuses := s.RecordsByKind[kind]
		for _, status := range kind.Statuses() {
			fmt.Fprintf(&b, "| %s | %s | %d |\n", kind, status, statuses[status])
		}
	}

	if len(s.PackagedCodes) > 0 {
		b.WriteString("\n## Consumer codes\n\n")
		for _, code := range s.PackagedCodes {
			fmt.Fprintf(&b, "- `%s`\n", code)
		}
	}
	b.WriteString("\n## Conservation\n\n")
	if len(s.OverConsumed) == 0 {
		b.WriteString("All batches are within their accepted quantity.\n")
	} else {
		for _, code := range s.OverConsumed {
			fmt.Fprintf(&b, "- **over-consumed:** `%s`\n", code)
		}
	}
	return b.String()
}

// Renderer turns markdown into ANSI-styled terminal text at a fixed wrap width.
type Renderer struct {
	style string
	width int
}

// NewRenderer returns a renderer for one glamour style ("dark", "light", "notty", ...).
func NewRenderer(style string, width int) *Renderer {
	style = strings.TrimSpace(style)
	if style == "" {
		style = "dark"
	}
	if width < 24 {
		width = 24
	}
	return &Renderer{style: style, width: width}
}

// Render converts markdown input into terminal text.
func (r *Renderer) Render(markdown string) (string, error) {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return "", nil
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.style),
		glamour.WithWordWrap(r.width),
	)
	if err != nil {
		return "", fmt.Errorf("build markdown renderer: %w", err)
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimRight(rendered, "\n"), nil
}
