package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/domain"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

func newTable(headers ...string) *table.Table {
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(branchStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cell
		})
}

// ActorsTable lists registered actors.
func ActorsTable(actors []domain.Actor) string {
	t := newTable("ID", "NAME", "ROLE", "COMPANY", "LICENSE")
	for _, a := range actors {
		t.Row(a.ID, a.Name, string(a.Role), a.Company, a.License)
	}
	return t.String()
}

// RecordsTable lists ledger records.
func RecordsTable(records []domain.Record) string {
	t := newTable("ID", "KIND", "CODE", "STATUS", "V", "OWNER")
	for _, r := range records {
		t.Row(r.ID, string(r.Kind), fallback(r.Code, "-"), string(r.Status), strconv.FormatInt(r.Version, 10), r.OwnerID)
	}
	return t.String()
}

// EventsTable lists transaction-log entries in the order given.
func EventsTable(events []domain.ChangeEvent) string {
	t := newTable("#", "TIME", "RECORD", "INTENT", "TRANSITION", "V", "ACTOR")
	for _, e := range events {
		transition := string(e.ToStatus)
		if e.FromStatus != "" && e.FromStatus != e.ToStatus {
			transition = string(e.FromStatus) + " -> " + string(e.ToStatus)
		}
		t.Row(
			strconv.FormatInt(e.ID, 10),
			e.OccurredAt.UTC().Format("2006-01-02 15:04:05"),
			e.RecordID,
			e.Intent,
			transition,
			strconv.FormatInt(e.Version, 10),
			e.ActorID,
		)
	}
	return t.String()
}

// HeadroomTable shows accepted, consumed, and remaining quantity for one batch.
func HeadroomTable(h app.Headroom) string {
	consumers := "-"
	if len(h.Consumers) > 0 {
		consumers = strings.Join(h.Consumers, ", ")
	}
	return newTable("BATCH", "ACCEPTED", "CONSUMED", "REMAINING", "CONSUMERS").
		Row(h.BatchCode, fmt.Sprint(h.Accepted), fmt.Sprint(h.Consumed), fmt.Sprint(h.Remaining), consumers).
		String()
}
