// Package routereval measures topic router accuracy against labeled samples.
package routereval

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/TobiSchelling/hotnote/internal/router"
)

// ErrNoSamples is returned when the input holds no samples.
var ErrNoSamples = errors.New("no samples loaded")

const (
	maxErrorExamples  = 5
	maxWrongInReport  = 30
	defaultReportDir  = "eval/reports"
	reportTimeLayout  = "20060102_150405"
	maxSampleLineSize = 1 << 20
)

// Sample is one labeled topic.
type Sample struct {
	Topic       string `json:"topic"`
	GoldProfile string `json:"gold_profile"`
	Note        string `json:"note,omitempty"`
}

// Row is one evaluated sample.
type Row struct {
	Topic       string `json:"topic"`
	GoldProfile string `json:"gold_profile"`
	PredProfile string `json:"pred_profile"`
	Correct     bool   `json:"correct"`
	Note        string `json:"note"`
}

// ClassMetrics are the per-profile scores.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Metrics summarizes an evaluation run.
type Metrics struct {
	Total           int                       `json:"total"`
	Correct         int                       `json:"correct"`
	Accuracy        float64                   `json:"accuracy"`
	Labels          []string                  `json:"labels"`
	ConfusionMatrix map[string]map[string]int `json:"confusion_matrix"`
	PerClass        map[string]ClassMetrics   `json:"per_class"`
	ErrorExamples   map[string][]string       `json:"error_examples"`
}

// Report is the JSON report document.
type Report struct {
	Input   string  `json:"input"`
	Metrics Metrics `json:"metrics"`
	Rows    []Row   `json:"rows"`
}

// Predictor resolves a topic to a profile.
type Predictor interface {
	Classify(ctx context.Context, topic, explicit string) router.Resolution
}

// LoadSamples reads JSONL samples. Blank lines are skipped; topic and
// gold_profile are required. limit <= 0 reads everything.
func LoadSamples(r io.Reader, limit int) ([]Sample, error) {
	var samples []Sample
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSampleLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var s Sample
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("invalid sample at line %d: %w", lineNo, err)
		}
		s.Topic = strings.TrimSpace(s.Topic)
		s.GoldProfile = strings.ToLower(strings.TrimSpace(s.GoldProfile))
		s.Note = strings.TrimSpace(s.Note)
		if s.Topic == "" || s.GoldProfile == "" {
			return nil, fmt.Errorf("invalid sample at line %d: topic/gold_profile required", lineNo)
		}
		samples = append(samples, s)
		if limit > 0 && len(samples) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	return samples, nil
}

// LoadFile reads samples from a JSONL file.
func LoadFile(path string, limit int) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSamples(f, limit)
}

// Predict classifies every sample without an explicit profile.
func Predict(ctx context.Context, p Predictor, samples []Sample) []Row {
	rows := make([]Row, 0, len(samples))
	for _, s := range samples {
		res := p.Classify(ctx, s.Topic, "")
		pred := strings.ToLower(strings.TrimSpace(res.Profile))
		rows = append(rows, Row{
			Topic:       s.Topic,
			GoldProfile: s.GoldProfile,
			PredProfile: pred,
			Correct:     pred == s.GoldProfile,
			Note:        s.Note,
		})
	}
	return rows
}

// Compute derives accuracy, the confusion matrix and per-class scores.
func Compute(rows []Row) Metrics {
	labelSet := map[string]bool{}
	for _, r := range rows {
		labelSet[r.GoldProfile] = true
		labelSet[r.PredProfile] = true
	}
	labels := make([]string, 0, len(labelSet))
	for l := range labelSet {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	confusion := make(map[string]map[string]int, len(labels))
	for _, g := range labels {
		confusion[g] = make(map[string]int, len(labels))
		for _, p := range labels {
			confusion[g][p] = 0
		}
	}

	m := Metrics{
		Total:           len(rows),
		Labels:          labels,
		ConfusionMatrix: confusion,
		PerClass:        make(map[string]ClassMetrics, len(labels)),
		ErrorExamples:   map[string][]string{},
	}
	for _, r := range rows {
		confusion[r.GoldProfile][r.PredProfile]++
		if r.GoldProfile == r.PredProfile {
			m.Correct++
		} else if len(m.ErrorExamples[r.GoldProfile]) < maxErrorExamples {
			m.ErrorExamples[r.GoldProfile] = append(m.ErrorExamples[r.GoldProfile], r.PredProfile)
		}
	}
	m.Accuracy = float64(m.Correct) / float64(max(m.Total, 1))

	for _, label := range labels {
		tp := confusion[label][label]
		var fp, fn, support int
		for _, other := range labels {
			support += confusion[label][other]
			if other == label {
				continue
			}
			fp += confusion[other][label]
			fn += confusion[label][other]
		}
		precision := float64(tp) / float64(max(tp+fp, 1))
		recall := float64(tp) / float64(max(tp+fn, 1))
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		m.PerClass[label] = ClassMetrics{Precision: precision, Recall: recall, F1: f1, Support: support}
	}
	return m
}

func pct(x float64) string {
	return fmt.Sprintf("%.2f%%", x*100)
}

// Markdown renders the human-readable report.
func Markdown(input string, m Metrics, rows []Row) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("# Router Eval Report")
	line("")
	line("- input: `%s`", input)
	line("- total: `%d`", m.Total)
	line("- correct: `%d`", m.Correct)
	line("- accuracy: `%s`", pct(m.Accuracy))
	line("")
	line("## Per-class Metrics")
	line("")
	line("| profile | precision | recall | f1 | support |")
	line("|---|---:|---:|---:|---:|")
	for _, label := range m.Labels {
		c := m.PerClass[label]
		line("| %s | %s | %s | %s | %d |", label, pct(c.Precision), pct(c.Recall), pct(c.F1), c.Support)
	}
	line("")
	line("## Confusion Matrix (gold x pred)")
	line("")
	line("| gold\\pred | %s |", strings.Join(m.Labels, " | "))
	line("|---|%s|", strings.Join(repeat("---:", len(m.Labels)), "|"))
	for _, g := range m.Labels {
		cells := make([]string, len(m.Labels))
		for i, p := range m.Labels {
			cells[i] = fmt.Sprint(m.ConfusionMatrix[g][p])
		}
		line("| %s | %s |", g, strings.Join(cells, " | "))
	}
	line("")
	line("## Wrong Predictions")
	line("")
	wrong := 0
	for _, r := range rows {
		if r.Correct {
			continue
		}
		if wrong < maxWrongInReport {
			line("- topic=`%s` gold=`%s` pred=`%s` note=`%s`", r.Topic, r.GoldProfile, r.PredProfile, r.Note)
		}
		wrong++
	}
	if wrong == 0 {
		line("- none")
	}
	return b.String()
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// JSON renders the machine-readable report.
func JSON(input string, m Metrics, rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Report{Input: input, Metrics: m, Rows: rows}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DefaultPaths returns the timestamped report paths used when none are given.
func DefaultPaths(now time.Time) (mdPath, jsonPath string) {
	stamp := now.Format(reportTimeLayout)
	base := filepath.Join(defaultReportDir, "router_eval_"+stamp)
	return base + ".md", base + ".json"
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
