package routereval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/hotnote/internal/router"
)

type tablePredictor map[string]string

func (t tablePredictor) Classify(ctx context.Context, topic, explicit string) router.Resolution {
	return router.Resolution{Profile: t[topic], Source: router.SourceClassifier}
}

const samplesJSONL = `{"topic": "Go 工程师内推", "gold_profile": "JOB", "note": "referral"}

{"topic": "基金定投", "gold_profile": "finance"}
{"topic": "周末露营", "gold_profile": "general"}
{"topic": "面试复盘", "gold_profile": "job", "note": "interview"}
`

func TestLoadSamples(t *testing.T) {
	samples, err := LoadSamples(strings.NewReader(samplesJSONL), 0)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	assert.Equal(t, Sample{Topic: "Go 工程师内推", GoldProfile: "job", Note: "referral"}, samples[0])

	limited, err := LoadSamples(strings.NewReader(samplesJSONL), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLoadSamplesErrors(t *testing.T) {
	_, err := LoadSamples(strings.NewReader("\n\n"), 0)
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = LoadSamples(strings.NewReader(`{"topic":"x"}`), 0)
	assert.ErrorContains(t, err, "line 1: topic/gold_profile required")

	_, err = LoadSamples(strings.NewReader("{\"topic\":\"x\",\"gold_profile\":\"job\"}\nnot json"), 0)
	assert.ErrorContains(t, err, "line 2")
}

func evalRows(t *testing.T) []Row {
	samples, err := LoadSamples(strings.NewReader(samplesJSONL), 0)
	require.NoError(t, err)
	pred := tablePredictor{
		"Go 工程师内推": "job",
		"基金定投":     "finance",
		"周末露营":     "job",
		"面试复盘":     "general",
	}
	return Predict(context.Background(), pred, samples)
}

func TestCompute(t *testing.T) {
	rows := evalRows(t)
	m := Compute(rows)

	assert.Equal(t, 4, m.Total)
	assert.Equal(t, 2, m.Correct)
	assert.InDelta(t, 0.5, m.Accuracy, 1e-9)
	assert.Equal(t, []string{"finance", "general", "job"}, m.Labels)
	assert.Equal(t, 1, m.ConfusionMatrix["general"]["job"])
	assert.Equal(t, 1, m.ConfusionMatrix["job"]["general"])
	assert.Equal(t, 1, m.ConfusionMatrix["job"]["job"])

	job := m.PerClass["job"]
	assert.InDelta(t, 0.5, job.Precision, 1e-9)
	assert.InDelta(t, 0.5, job.Recall, 1e-9)
	assert.InDelta(t, 0.5, job.F1, 1e-9)
	assert.Equal(t, 2, job.Support)

	general := m.PerClass["general"]
	assert.Zero(t, general.Precision)
	assert.Zero(t, general.F1)

	assert.Equal(t, map[string][]string{"general": {"job"}, "job": {"general"}}, m.ErrorExamples)
}

func TestComputeErrorExamplesCapped(t *testing.T) {
	var rows []Row
	for range 8 {
		rows = append(rows, Row{GoldProfile: "job", PredProfile: "general"})
	}
	m := Compute(rows)
	assert.Len(t, m.ErrorExamples["job"], 5)
	assert.Zero(t, m.Accuracy)
}

func TestMarkdown(t *testing.T) {
	rows := evalRows(t)
	md := Markdown("eval/router.jsonl", Compute(rows), rows)

	assert.True(t, strings.HasPrefix(md, "# Router Eval Report\n\n- input: `eval/router.jsonl`\n"))
	assert.Contains(t, md, "- accuracy: `50.00%`")
	assert.Contains(t, md, "| job | 50.00% | 50.00% | 50.00% | 2 |")
	assert.Contains(t, md, "| gold\\pred | finance | general | job |\n|---|---:|---:|---:|\n")
	assert.Contains(t, md, "| general | 0 | 0 | 1 |")
	assert.Contains(t, md, "- topic=`周末露营` gold=`general` pred=`job` note=``")
	assert.Contains(t, md, "- topic=`面试复盘` gold=`job` pred=`general` note=`interview`")
	assert.NotContains(t, md, "- none")
}

func TestMarkdownNoErrors(t *testing.T) {
	rows := []Row{{Topic: "t", GoldProfile: "job", PredProfile: "job", Correct: true}}
	md := Markdown("in", Compute(rows), rows)
	assert.True(t, strings.HasSuffix(md, "## Wrong Predictions\n\n- none\n"))
}

func TestJSONReport(t *testing.T) {
	rows := evalRows(t)
	data, err := JSON("in.jsonl", Compute(rows), rows)
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "in.jsonl", report.Input)
	assert.Len(t, report.Rows, 4)
	assert.Contains(t, string(data), "周末露营", "non-ASCII text is written as-is")
}

func TestDefaultPathsAndWrite(t *testing.T) {
	md, js := DefaultPaths(time.Date(2026, 3, 1, 9, 5, 7, 0, time.UTC))
	assert.Equal(t, filepath.Join("eval", "reports", "router_eval_20260301_090507.md"), md)
	assert.Equal(t, filepath.Join("eval", "reports", "router_eval_20260301_090507.json"), js)

	path := filepath.Join(t.TempDir(), "nested", "report.md")
	require.NoError(t, WriteFile(path, []byte("ok")))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(got))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(samplesJSONL), 0o644))
	samples, err := LoadFile(path, 0)
	require.NoError(t, err)
	assert.Len(t, samples, 4)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.jsonl"), 0)
	assert.Error(t, err)
}
