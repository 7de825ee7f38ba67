// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dimenwarper/rnapipey/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintPlan outputs the ensemble plan per backend before dispatch.
func (p *Printer) PrintPlan(backend string, members []types.EnsembleMember) {
	if len(members) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Backend:  %s\n", backend))
	sb.WriteString(fmt.Sprintf("Members:  %d\n\n", len(members)))

	count := min(len(members), maxItemsToShow)
	for i := 0; i < count; i++ {
		m := members[i]
		sb.WriteString(fmt.Sprintf("  seed %-3d device %s", m.Seed, m.Device))
		if m.MCDropout {
			sb.WriteString("  +dropout")
		}
		if m.NoiseScale > 0 {
			sb.WriteString(fmt.Sprintf("  noise=%.2f", m.NoiseScale))
		}
		sb.WriteString("\n")
	}
	if len(members) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(members)-maxItemsToShow))
	}

	p.printBox("ENSEMBLE PLAN", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintClusters outputs each backend's cluster summary.
func (p *Printer) PrintClusters(run *types.PipelineRun) {
	if run == nil || len(run.Clusters) == 0 {
		return
	}

	backends := make([]string, 0, len(run.Clusters))
	for name := range run.Clusters {
		backends = append(backends, name)
	}
	sort.Strings(backends)

	var sb strings.Builder
	for _, name := range backends {
		clusters := run.Clusters[name]
		result := run.Ensembles[name]
		if result == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s: %d cluster(s)\n", name, len(clusters)))
		count := min(len(clusters), maxItemsToShow)
		for i := 0; i < count; i++ {
			c := clusters[i]
			rep := result.Members[c.Representative]
			sb.WriteString(fmt.Sprintf("  #%d  size %d  rep seed %d", i+1, len(c.Members), rep.Seed))
			if len(c.Members) > 1 {
				sb.WriteString(fmt.Sprintf("  mean %.2f max %.2f", c.MeanRMSD, c.MaxRMSD))
			}
			sb.WriteString("\n")
		}
		if len(clusters) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(clusters)-maxItemsToShow))
		}
	}

	p.printBox("STRUCTURE CLUSTERS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRanking outputs the top scored models.
func (p *Printer) PrintRanking(ranking []types.ModelScore) {
	if len(ranking) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Models scored: %d\n\n", len(ranking)))

	count := min(len(ranking), maxItemsToShow)
	for i := 0; i < count; i++ {
		ms := ranking[i]
		sb.WriteString(fmt.Sprintf("#%d  %s\n", i+1, ms.Model))
		sb.WriteString(fmt.Sprintf("    Avg rank: %.2f", ms.Score))
		if ms.Backend != "" {
			sb.WriteString(fmt.Sprintf("  (%s)", ms.Backend))
		}
		sb.WriteString("\n")
		if i < count-1 {
			sb.WriteString("\n")
		}
	}
	if len(ranking) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more\n", len(ranking)-maxItemsToShow))
	}

	p.printBox("MODEL RANKING", strings.TrimSuffix(sb.String(), "\n"))
}
