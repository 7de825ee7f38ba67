package report

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/dimenwarper/rnapipey/internal/types"
)

//go:embed report.md.tmpl
var reportTemplate string

// Meta carries the upstream-analysis context the run state does not persist
// directly.
type Meta struct {
	SequenceID     string
	SequenceLength int
	Family         string
	EValue         float64
	DotBracket     string
	MFE            float64
}

type templateData struct {
	RunID       string
	GeneratedAt string
	Meta        Meta
	Stages      []stageRow
	Backends    []backendSection
	Ranking     []rankingRow
	HasRanking  bool
}

type stageRow struct {
	Stage  string
	Status string
	Reason string
}

type backendSection struct {
	Backend  string
	Total    int
	Success  int
	Failed   []failureRow
	Clusters []clusterRow
}

type failureRow struct {
	Seed   int
	Reason string
}

type clusterRow struct {
	Index          int
	Size           int
	Representative string
	MeanRMSD       float64
	MaxRMSD        float64
}

type rankingRow struct {
	Rank    int
	Model   string
	Backend string
	Score   float64
	Metrics string
}

// RenderMarkdown produces the run summary document.
func RenderMarkdown(run *types.PipelineRun, meta Meta) (string, error) {
	tmpl, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		return "", &TemplateError{Message: "failed to parse report template", Cause: err}
	}

	data := buildTemplateData(run, meta)
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", &TemplateError{Message: "failed to execute report template", Cause: err}
	}
	return sb.String(), nil
}

// WriteReport renders the summary and writes it to path.
func WriteReport(run *types.PipelineRun, meta Meta, path string) error {
	content, err := RenderMarkdown(run, meta)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &RenderError{Message: "failed to create report directory", Cause: err}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return &RenderError{Message: "failed to write report", Cause: err}
	}
	return nil
}

func buildTemplateData(run *types.PipelineRun, meta Meta) templateData {
	data := templateData{
		RunID:       run.RunID,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Meta:        meta,
	}

	for _, rec := range run.Stages {
		data.Stages = append(data.Stages, stageRow{
			Stage:  rec.Stage,
			Status: string(rec.Status),
			Reason: rec.Reason,
		})
	}

	backends := make([]string, 0, len(run.Ensembles))
	for name := range run.Ensembles {
		backends = append(backends, name)
	}
	sort.Strings(backends)
	for _, name := range backends {
		result := run.Ensembles[name]
		section := backendSection{Backend: name, Total: len(result.Members)}
		for _, m := range result.Members {
			if m.Failed {
				section.Failed = append(section.Failed, failureRow{Seed: m.Seed, Reason: m.FailureReason})
			} else if m.StructurePath != "" {
				section.Success++
			}
		}
		for i, cluster := range run.Clusters[name] {
			rep := result.Members[cluster.Representative]
			section.Clusters = append(section.Clusters, clusterRow{
				Index:          i + 1,
				Size:           len(cluster.Members),
				Representative: fmt.Sprintf("seed %d", rep.Seed),
				MeanRMSD:       cluster.MeanRMSD,
				MaxRMSD:        cluster.MaxRMSD,
			})
		}
		data.Backends = append(data.Backends, section)
	}

	for i, ms := range run.Ranking {
		metricNames := make([]string, 0, len(ms.Metrics))
		for name := range ms.Metrics {
			metricNames = append(metricNames, name)
		}
		sort.Strings(metricNames)
		parts := make([]string, 0, len(metricNames))
		for _, name := range metricNames {
			parts = append(parts, fmt.Sprintf("%s=%.3f", name, ms.Metrics[name]))
		}
		data.Ranking = append(data.Ranking, rankingRow{
			Rank:    i + 1,
			Model:   ms.Model,
			Backend: ms.Backend,
			Score:   ms.Score,
			Metrics: strings.Join(parts, ", "),
		})
	}
	data.HasRanking = len(data.Ranking) > 0

	return data
}
