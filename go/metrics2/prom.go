package metrics2

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/visionlens/visionlens/go/sklog"
)

// invalidChar matches anything Prometheus does not allow in metric and
// label names.
var invalidChar = regexp.MustCompile("([^a-zA-Z0-9_:])")

func clean(s string) string {
	return invalidChar.ReplaceAllLiteralString(s, "_")
}

// promInt64 implements Int64Metric. The raw value is tracked locally
// because the prometheus client offers no Get on gauges.
type promInt64 struct {
	i     int64
	gauge prometheus.Gauge
}

func (m *promInt64) Get() int64 {
	return atomic.LoadInt64(&m.i)
}

func (m *promInt64) Update(v int64) {
	atomic.StoreInt64(&m.i, v)
	m.gauge.Set(float64(v))
}

// promCounter implements Counter.
type promCounter struct {
	*promInt64
}

func (c *promCounter) Inc(i int64) {
	c.Update(c.Get() + i)
}

func (c *promCounter) Dec(i int64) {
	c.Update(c.Get() - i)
}

func (c *promCounter) Reset() {
	c.Update(0)
}

// promSummary implements Float64SummaryMetric.
type promSummary struct {
	summary prometheus.Observer
}

func (m *promSummary) Observe(v float64) {
	m.summary.Observe(v)
}

// promClient hands out metrics, registering each name+label-set vector with
// the default prometheus registry exactly once.
type promClient struct {
	mtx         sync.Mutex
	gaugeVecs   map[string]*prometheus.GaugeVec
	gauges      map[string]*promInt64
	summaryVecs map[string]*prometheus.SummaryVec
	summaries   map[string]*promSummary
}

func newPromClient() *promClient {
	return &promClient{
		gaugeVecs:   map[string]*prometheus.GaugeVec{},
		gauges:      map[string]*promInt64{},
		summaryVecs: map[string]*prometheus.SummaryVec{},
		summaries:   map[string]*promSummary{},
	}
}

// commonGet cleans the measurement and tags and derives the cache keys: one
// for the individual metric, one for the vector it lives in.
func commonGet(measurement string, tags ...map[string]string) (string, map[string]string, []string, string, string) {
	measurement = clean(measurement)
	cleanTags := map[string]string{}
	keys := []string{}
	for _, t := range tags {
		for k, v := range t {
			key := clean(k)
			if _, ok := cleanTags[key]; !ok {
				keys = append(keys, key)
			}
			cleanTags[key] = v
		}
	}
	sort.Strings(keys)
	metricKeySrc := []string{measurement}
	for _, key := range keys {
		metricKeySrc = append(metricKeySrc, key, cleanTags[key])
	}
	metricKey := strings.Join(metricKeySrc, "-")
	vecKey := fmt.Sprintf("%s %v", measurement, keys)
	return measurement, cleanTags, keys, metricKey, vecKey
}

func (p *promClient) GetInt64Metric(name string, tags ...map[string]string) Int64Metric {
	measurement, cleanTags, keys, metricKey, vecKey := commonGet(name, tags...)
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if m, ok := p.gauges[metricKey]; ok {
		return m
	}
	vec, ok := p.gaugeVecs[vecKey]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: measurement, Help: measurement}, keys)
		if err := prometheus.Register(vec); err != nil {
			sklog.Fatalf("Failed to register %q: %s", measurement, err)
		}
		p.gaugeVecs[vecKey] = vec
	}
	gauge, err := vec.GetMetricWith(prometheus.Labels(cleanTags))
	if err != nil {
		sklog.Fatalf("Failed to get gauge %q: %s", measurement, err)
	}
	m := &promInt64{gauge: gauge}
	p.gauges[metricKey] = m
	return m
}

func (p *promClient) GetCounter(name string, tags ...map[string]string) Counter {
	return &promCounter{promInt64: p.GetInt64Metric(name, tags...).(*promInt64)}
}

func (p *promClient) GetFloat64SummaryMetric(name string, tags ...map[string]string) Float64SummaryMetric {
	measurement, cleanTags, keys, metricKey, vecKey := commonGet(name, tags...)
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if m, ok := p.summaries[metricKey]; ok {
		return m
	}
	vec, ok := p.summaryVecs[vecKey]
	if !ok {
		vec = prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       measurement,
			Help:       measurement,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, keys)
		if err := prometheus.Register(vec); err != nil {
			sklog.Fatalf("Failed to register %q: %s", measurement, err)
		}
		p.summaryVecs[vecKey] = vec
	}
	summary, err := vec.GetMetricWith(prometheus.Labels(cleanTags))
	if err != nil {
		sklog.Fatalf("Failed to get summary %q: %s", measurement, err)
	}
	m := &promSummary{summary: summary}
	p.summaries[metricKey] = m
	return m
}
