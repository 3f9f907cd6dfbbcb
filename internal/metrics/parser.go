package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/common/expfmt"
)

// ParseActiveConnections sums a gauge metric family across every series
// whose label value appears in labelValues, reading Prometheus text
// exposition format. No command calls it: `wraith stop` sends SIGTERM
// without waiting for active connections to drain.
func ParseActiveConnections(stats io.Reader, statName string, labelValues []string) (int, error) {
	if stats == nil {
		return -1, fmt.Errorf("stats input was nil")
	}

	var parser expfmt.TextParser
	metricFamilies, err := parser.TextToMetricFamilies(stats)
	if err != nil {
		return -1, fmt.Errorf("parsing prometheus text format failed: %v", err)
	}

	family, ok := metricFamilies[statName]
	if !ok {
		return -1, fmt.Errorf("prometheus stat [%s] not found in request result", statName)
	}

	total := 0
	for _, m := range family.Metric {
		for _, label := range m.Label {
			for _, want := range labelValues {
				if want == label.GetValue() {
					total += int(m.GetGauge().GetValue())
				}
			}
		}
	}
	return total, nil
}
