// Package metrics reads broker monitoring data. A Bean is one monitored
// object: a domain, identifying properties and a bag of attributes. The
// TopicMeter helpers recognize the per-topic broker meters among beans and
// turn them into typed snapshots, and FromGatherer produces beans from a
// Prometheus registry.
package metrics
