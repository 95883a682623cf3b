package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	jobmetrics "github.com/odyssey-erp/fxreval/internal/jobs"
)

type alertFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Alert       string            `yaml:"alert"`
			Expr        string            `yaml:"expr"`
			For         string            `yaml:"for"`
			Labels      map[string]string `yaml:"labels"`
			Annotations map[string]string `yaml:"annotations"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

var metricName = regexp.MustCompile(`fxreval_[a-z_]+`)

// exportedMetrics lists every family the API process exposes once each
// collector has observed one sample.
func exportedMetrics(t *testing.T) map[string]bool {
	t.Helper()
	m := NewMetrics()
	jobs := jobmetrics.NewMetrics(m.Registerer())
	_ = jobs.Track("fx:revaluation").End(nil)
	_ = jobs.Track("fx:revaluation").End(os.ErrDeadlineExceeded)
	jobs.AddRateGaps("1000", 1)
	m.ObserveRun("COMPLETED", true, 1, time.Second)

	families, err := m.registry.Gather()
	require.NoError(t, err)
	out := make(map[string]bool, len(families))
	for _, fam := range families {
		out[fam.GetName()] = true
	}
	return out
}

func TestFXRevaluationAlertRules(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "fxreval.yml"))
	require.NoError(t, err)

	var file alertFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	require.Len(t, file.Groups, 1)
	require.Equal(t, "fxreval", file.Groups[0].Name)

	severities := map[string]string{
		"FXRevaluationFailed":   "critical",
		"FXRevaluationWarnings": "warning",
		"FXRateGaps":            "warning",
		"FXJobFailures":         "critical",
	}
	exported := exportedMetrics(t)

	rules := file.Groups[0].Rules
	require.Len(t, rules, len(severities))
	for _, rule := range rules {
		want, ok := severities[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, want, rule.Labels["severity"], rule.Alert)
		require.Regexp(t, `^docs/runbook-fxreval\.md#[a-z-]+$`, rule.Annotations["runbook"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		_, err := time.ParseDuration(rule.For)
		require.NoError(t, err, "rule %s hold duration", rule.Alert)

		names := metricName.FindAllString(rule.Expr, -1)
		require.NotEmpty(t, names, "rule %s must query an fxreval metric", rule.Alert)
		for _, name := range names {
			require.True(t, exported[name], "rule %s queries %s which is never exported", rule.Alert, name)
		}
	}
}
