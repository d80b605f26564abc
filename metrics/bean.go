package metrics

import (
	"maps"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Bean is one monitored object.
type Bean struct {
	Domain     string
	Properties map[string]string
	Attributes map[string]any
	QueryTime  time.Time
}

// Attribute names FromGatherer fills in.
const (
	AttrCount = "Count"
	AttrValue = "Value"
	AttrSum   = "Sum"
)

// FromGatherer gathers mf and returns one bean per metric. The family name
// becomes the domain with underscores read as dots ("kafka_server" becomes
// "kafka.server"), the labels become properties, and the value becomes the
// Count attribute for counters, Value for gauges and untyped metrics, and
// Count and Sum for summaries and histograms.
func FromGatherer(g prometheus.Gatherer, queryTime time.Time) ([]Bean, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	var beans []Bean
	for _, mf := range families {
		domain := strings.ReplaceAll(mf.GetName(), "_", ".")
		for _, m := range mf.GetMetric() {
			beans = append(beans, Bean{
				Domain:     domain,
				Properties: labels(m),
				Attributes: attributes(mf.GetType(), m),
				QueryTime:  queryTime,
			})
		}
	}
	return beans, nil
}

func labels(m *dto.Metric) map[string]string {
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func attributes(t dto.MetricType, m *dto.Metric) map[string]any {
	switch t {
	case dto.MetricType_COUNTER:
		return map[string]any{AttrCount: int64(m.GetCounter().GetValue())}
	case dto.MetricType_GAUGE:
		return map[string]any{AttrValue: m.GetGauge().GetValue()}
	case dto.MetricType_SUMMARY:
		return map[string]any{
			AttrCount: int64(m.GetSummary().GetSampleCount()),
			AttrSum:   m.GetSummary().GetSampleSum(),
		}
	case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
		return map[string]any{
			AttrCount: int64(m.GetHistogram().GetSampleCount()),
			AttrSum:   m.GetHistogram().GetSampleSum(),
		}
	default:
		return map[string]any{AttrValue: m.GetUntyped().GetValue()}
	}
}

// Clone returns a deep copy of b.
func (b Bean) Clone() Bean {
	b.Properties = maps.Clone(b.Properties)
	b.Attributes = maps.Clone(b.Attributes)
	return b
}
