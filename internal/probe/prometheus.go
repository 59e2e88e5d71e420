package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"
)

const (
	defaultPromPort = 9100
	defaultPromPath = "/metrics"
)

// cpuState caches the previous scrape's CPU counter sums per device, so
// utilization can be derived from the delta between scrapes.
type cpuState struct {
	idle  float64
	total float64
}

// PrometheusProber scrapes a node_exporter-style metrics endpoint.
type PrometheusProber struct {
	client *http.Client
	logger *zap.Logger

	mu  sync.Mutex
	cpu map[string]cpuState // device ID -> previous counter sums
}

// NewPrometheusProber creates the Prometheus scrape adapter.
func NewPrometheusProber(logger *zap.Logger) *PrometheusProber {
	return &PrometheusProber{
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
		cpu:    make(map[string]cpuState),
	}
}

// Probe scrapes the endpoint, derives the core CPU/memory/disk metrics,
// and on detailed cycles samples the device's configured metric watches.
func (p *PrometheusProber) Probe(ctx context.Context, target Target) (*Result, error) {
	if target.Credentials == nil || target.Credentials.Prometheus == nil {
		return nil, errors.New("prometheus probe: prometheus credentials required")
	}

	families, err := p.scrape(ctx, target.Device.IPAddress, target.Credentials.Prometheus)
	if err != nil {
		p.logger.Debug("prometheus scrape failed",
			zap.String("ip", target.Device.IPAddress), zap.Error(err))
		return &Result{Success: false}, nil
	}

	data := &models.DeviceData{}
	data.CPUUsagePct = p.deriveCPU(target.Device.ID, families)
	data.MemoryUsagePct = deriveMemory(families)
	data.DiskUsagePct = deriveDisk(families)
	if up := singleValue(families, "node_time_seconds"); up != nil {
		// node_boot_time_seconds gives a steadier uptime than counters.
		if boot := singleValue(families, "node_boot_time_seconds"); boot != nil {
			secs := int64(*up - *boot)
			if secs > 0 {
				data.UptimeSeconds = i64ptr(secs)
				data.Uptime = fmtUptime(time.Duration(secs) * time.Second)
			}
		}
	}
	if uname := families["node_uname_info"]; uname != nil && len(uname.Metric) > 0 {
		for _, lp := range uname.Metric[0].GetLabel() {
			switch lp.GetName() {
			case "nodename":
				data.Identity = lp.GetValue()
			case "release":
				data.Version = lp.GetValue()
			}
		}
	}

	result := &Result{Success: true, Data: data}

	if target.Detailed {
		now := time.Now().UTC()
		for _, watch := range target.Watches {
			for _, sample := range selectSamples(families, watch) {
				sample.DeviceID = target.Device.ID
				sample.RecordedAt = now
				result.Samples = append(result.Samples, sample)
			}
		}
	}
	return result, nil
}

// MetricInfo describes one discovered metric for the UI's selector pickers.
type MetricInfo struct {
	Name         string              `json:"name"`
	Help         string              `json:"help,omitempty"`
	Type         string              `json:"type"`
	SampleLabels []map[string]string `json:"sample_labels,omitempty"`
}

// DiscoverMetrics scrapes the endpoint and catalogues every metric family
// with up to maxSamples example label vectors each.
func (p *PrometheusProber) DiscoverMetrics(ctx context.Context, ip string, cred *models.PrometheusCredentials, maxSamples int) ([]MetricInfo, error) {
	families, err := p.scrape(ctx, ip, cred)
	if err != nil {
		return nil, err
	}
	if maxSamples <= 0 {
		maxSamples = 5
	}

	out := make([]MetricInfo, 0, len(families))
	for name, mf := range families {
		info := MetricInfo{
			Name: name,
			Help: mf.GetHelp(),
			Type: mf.GetType().String(),
		}
		for _, m := range mf.Metric {
			if len(info.SampleLabels) >= maxSamples {
				break
			}
			if len(m.GetLabel()) == 0 {
				continue
			}
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			info.SampleLabels = append(info.SampleLabels, labels)
		}
		out = append(out, info)
	}
	return out, nil
}

func (p *PrometheusProber) scrape(ctx context.Context, ip string, cred *models.PrometheusCredentials) (map[string]*dto.MetricFamily, error) {
	port := cred.Port
	if port == 0 {
		port = defaultPromPort
	}
	path := cred.MetricsPath
	if path == "" {
		path = defaultPromPath
	}
	scheme := cred.Scheme
	if scheme == "" {
		scheme = "http"
	}
	url := scheme + "://" + ip + ":" + strconv.Itoa(port) + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if cred.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+cred.BearerToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape %s: HTTP %d", url, resp.StatusCode)
	}

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse exposition from %s: %w", url, err)
	}
	return families, nil
}

// deriveCPU computes utilization from the idle share of the
// node_cpu_seconds_total delta since the previous scrape. The first scrape
// for a device yields nil.
func (p *PrometheusProber) deriveCPU(deviceID string, families map[string]*dto.MetricFamily) *float64 {
	mf := families["node_cpu_seconds_total"]
	if mf == nil {
		return nil
	}

	var idle, total float64
	for _, m := range mf.Metric {
		v := metricValue(m, mf.GetType())
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "mode" && lp.GetValue() == "idle" {
				idle += v
			}
		}
	}

	p.mu.Lock()
	prev, seen := p.cpu[deviceID]
	p.cpu[deviceID] = cpuState{idle: idle, total: total}
	p.mu.Unlock()

	if !seen {
		return nil
	}
	dTotal := total - prev.total
	dIdle := idle - prev.idle
	if dTotal <= 0 || dIdle < 0 {
		// Exporter restarted; counters went backwards. Fresh baseline.
		return nil
	}
	pct := (1 - dIdle/dTotal) * 100
	if pct < 0 || pct > 100 || math.IsNaN(pct) {
		return nil
	}
	return f64ptr(pct)
}

// Forget drops a device's cached CPU counters, e.g. after deletion.
func (p *PrometheusProber) Forget(deviceID string) {
	p.mu.Lock()
	delete(p.cpu, deviceID)
	p.mu.Unlock()
}

func deriveMemory(families map[string]*dto.MetricFamily) *float64 {
	total := singleValue(families, "node_memory_MemTotal_bytes")
	avail := singleValue(families, "node_memory_MemAvailable_bytes")
	if total == nil || avail == nil || *total <= 0 {
		return nil
	}
	return f64ptr((*total - *avail) / *total * 100)
}

func deriveDisk(families map[string]*dto.MetricFamily) *float64 {
	size := rootFilesystemValue(families, "node_filesystem_size_bytes")
	avail := rootFilesystemValue(families, "node_filesystem_avail_bytes")
	if size == nil || avail == nil || *size <= 0 {
		return nil
	}
	return f64ptr((*size - *avail) / *size * 100)
}

// singleValue returns the value of a single-sample family, or nil.
func singleValue(families map[string]*dto.MetricFamily, name string) *float64 {
	mf := families[name]
	if mf == nil || len(mf.Metric) == 0 {
		return nil
	}
	v := metricValue(mf.Metric[0], mf.GetType())
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return f64ptr(v)
}

// rootFilesystemValue returns the family's sample at mountpoint "/".
func rootFilesystemValue(families map[string]*dto.MetricFamily, name string) *float64 {
	mf := families[name]
	if mf == nil {
		return nil
	}
	for _, m := range mf.Metric {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "mountpoint" && lp.GetValue() == "/" {
				v := metricValue(m, mf.GetType())
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil
				}
				return f64ptr(v)
			}
		}
	}
	return nil
}

// selectSamples returns the watch's metric samples whose labels exactly
// match every label the watch specifies. Unspecified labels are ignored.
func selectSamples(families map[string]*dto.MetricFamily, watch models.MetricWatch) []models.PromSample {
	mf := families[watch.MetricName]
	if mf == nil {
		return nil
	}

	var out []models.PromSample
	for _, m := range mf.Metric {
		labels := make(map[string]string, len(m.GetLabel()))
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		matched := true
		for k, v := range watch.Labels {
			if labels[k] != v {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		v := metricValue(m, mf.GetType())
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, models.PromSample{
			MetricName: watch.MetricName,
			Labels:     labels,
			Value:      v,
		})
	}
	return out
}

func metricValue(m *dto.Metric, typ dto.MetricType) float64 {
	switch typ {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue()
	case dto.MetricType_SUMMARY:
		return m.GetSummary().GetSampleSum()
	case dto.MetricType_HISTOGRAM:
		return m.GetHistogram().GetSampleSum()
	default:
		return math.NaN()
	}
}
