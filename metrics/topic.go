package metrics

import (
	"fmt"
	"slices"
	"time"
)

// Catalog names one per-topic broker meter.
type Catalog string

const (
	MessagesInPerSec                Catalog = "MessagesInPerSec"
	BytesInPerSec                   Catalog = "BytesInPerSec"
	BytesOutPerSec                  Catalog = "BytesOutPerSec"
	BytesRejectedPerSec             Catalog = "BytesRejectedPerSec"
	FailedProduceRequestsPerSec     Catalog = "FailedProduceRequestsPerSec"
	FailedFetchRequestsPerSec       Catalog = "FailedFetchRequestsPerSec"
	TotalProduceRequestsPerSec      Catalog = "TotalProduceRequestsPerSec"
	TotalFetchRequestsPerSec        Catalog = "TotalFetchRequestsPerSec"
	FetchMessageConversionsPerSec   Catalog = "FetchMessageConversionsPerSec"
	ProduceMessageConversionsPerSec Catalog = "ProduceMessageConversionsPerSec"
)

var catalogs = []Catalog{
	MessagesInPerSec,
	BytesInPerSec,
	BytesOutPerSec,
	BytesRejectedPerSec,
	FailedProduceRequestsPerSec,
	FailedFetchRequestsPerSec,
	TotalProduceRequestsPerSec,
	TotalFetchRequestsPerSec,
	FetchMessageConversionsPerSec,
	ProduceMessageConversionsPerSec,
}

// Catalogs returns every known meter.
func Catalogs() []Catalog {
	return slices.Clone(catalogs)
}

// Valid reports whether c is a known meter.
func (c Catalog) Valid() bool {
	return slices.Contains(catalogs, c)
}

// Bean coordinates of the topic meters.
const (
	TopicMeterDomain = "kafka.server"
	TopicMeterType   = "BrokerTopicMetrics"

	propType  = "type"
	propTopic = "topic"
	propName  = "name"

	attrEventType         = "EventType"
	attrFifteenMinuteRate = "FifteenMinuteRate"
	attrFiveMinuteRate    = "FiveMinuteRate"
	attrMeanRate          = "MeanRate"
	attrOneMinuteRate     = "OneMinuteRate"
	attrRateUnit          = "RateUnit"
)

// DefaultEventType is used while a meter has not reported its event type.
const DefaultEventType = "unknown event"

// TopicMeter is a snapshot of one per-topic meter.
type TopicMeter struct {
	Topic             string
	Catalog           Catalog
	Count             int64
	EventType         string
	FifteenMinuteRate float64
	FiveMinuteRate    float64
	MeanRate          float64
	OneMinuteRate     float64
	RateUnit          time.Duration
	QueryTime         time.Time
}

// IsTopicMeter reports whether b is a per-topic meter.
func IsTopicMeter(b Bean) bool {
	if b.Domain != TopicMeterDomain || b.Properties[propType] != TopicMeterType {
		return false
	}
	if _, ok := b.Properties[propTopic]; !ok {
		return false
	}
	name, ok := b.Properties[propName]
	return ok && Catalog(name).Valid()
}

// NewTopicMeter builds a snapshot from b. Meters may not have reported yet,
// so missing attributes take defaults: zero counts and rates, DefaultEventType
// and a rate unit of one second. Attributes of the wrong type are an error.
func NewTopicMeter(b Bean) (TopicMeter, error) {
	if !IsTopicMeter(b) {
		return TopicMeter{}, fmt.Errorf("bean %s %v is not a topic meter", b.Domain, b.Properties)
	}
	m := TopicMeter{
		Topic:     b.Properties[propTopic],
		Catalog:   Catalog(b.Properties[propName]),
		EventType: DefaultEventType,
		RateUnit:  time.Second,
		QueryTime: b.QueryTime,
	}
	if m.Topic == "" {
		return TopicMeter{}, fmt.Errorf("topic meter %s: empty topic", m.Catalog)
	}

	var err error
	if m.Count, err = intAttr(b.Attributes, AttrCount); err != nil {
		return TopicMeter{}, err
	}
	if v, ok := b.Attributes[attrEventType]; ok {
		s, isString := v.(string)
		if !isString || s == "" {
			return TopicMeter{}, fmt.Errorf("attribute %s: want a non-empty string, got %v", attrEventType, v)
		}
		m.EventType = s
	}
	rates := []struct {
		key string
		dst *float64
	}{
		{attrFifteenMinuteRate, &m.FifteenMinuteRate},
		{attrFiveMinuteRate, &m.FiveMinuteRate},
		{attrMeanRate, &m.MeanRate},
		{attrOneMinuteRate, &m.OneMinuteRate},
	}
	for _, r := range rates {
		if *r.dst, err = floatAttr(b.Attributes, r.key); err != nil {
			return TopicMeter{}, err
		}
	}
	if v, ok := b.Attributes[attrRateUnit]; ok {
		d, isDuration := v.(time.Duration)
		if !isDuration || d <= 0 {
			return TopicMeter{}, fmt.Errorf("attribute %s: want a positive time.Duration, got %v", attrRateUnit, v)
		}
		m.RateUnit = d
	}
	return m, nil
}

// TopicMeters returns the snapshots of every topic meter among beans.
func TopicMeters(beans []Bean) ([]TopicMeter, error) {
	var out []TopicMeter
	for _, b := range beans {
		if !IsTopicMeter(b) {
			continue
		}
		m, err := NewTopicMeter(b)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func intAttr(attrs map[string]any, key string) (int64, error) {
	v, ok := attrs[key]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("attribute %s: want a number, got %T", key, v)
	}
}

func floatAttr(attrs map[string]any, key string) (float64, error) {
	v, ok := attrs[key]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("attribute %s: want a number, got %T", key, v)
	}
}
