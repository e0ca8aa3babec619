package alerting

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
)

// MetricRule arms the engine for one rolling metric. A metric with no
// rule is never alerted on.
type MetricRule struct {
	MetricName string        `yaml:"metric_name"`
	Comparison string        `yaml:"comparison"`
	Threshold  float64       `yaml:"threshold"`
	Severity   call.Severity `yaml:"severity"`
}

// Triggers reports whether the observed value crosses the rule's
// threshold.
func (r MetricRule) Triggers(value float64) bool {
	switch r.Comparison {
	case "gt":
		return value > r.Threshold
	case "gte":
		return value >= r.Threshold
	case "lt":
		return value < r.Threshold
	case "lte":
		return value <= r.Threshold
	default:
		return false
	}
}

func (r MetricRule) validate() error {
	if r.MetricName == "" {
		return errors.NewInvalidInput("metric rule requires a metric_name")
	}
	switch r.Comparison {
	case "gt", "gte", "lt", "lte":
	default:
		return errors.NewInvalidInput(fmt.Sprintf("metric rule %q has unknown comparison %q", r.MetricName, r.Comparison))
	}
	return nil
}

type rulesFile struct {
	Rules []MetricRule `yaml:"rules"`
}

// LoadRules reads metric rules from a YAML file. Rules missing a
// severity default to medium.
func LoadRules(path string) ([]MetricRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read alert rules file",
			map[string]interface{}{"path": path})
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse alert rules file",
			map[string]interface{}{"path": path})
	}

	for i := range file.Rules {
		if file.Rules[i].Severity == "" {
			file.Rules[i].Severity = call.SeverityMedium
		}
		if err := file.Rules[i].validate(); err != nil {
			return nil, err
		}
	}
	return file.Rules, nil
}

// DefaultRules is the built-in ruleset used when no rules file is
// configured: alert when the daily failure rate crosses the threshold.
func DefaultRules(failureRateThreshold float64) []MetricRule {
	if failureRateThreshold <= 0 {
		failureRateThreshold = 0.2
	}
	return []MetricRule{
		{
			MetricName: "failure_rate",
			Comparison: "gt",
			Threshold:  failureRateThreshold,
			Severity:   call.SeverityHigh,
		},
	}
}
