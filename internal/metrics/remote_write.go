package metrics

import (
	"context"
	"fmt"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

// StartRemoteWrite pushes tenant-labelled series to Mimir every flush
// interval until ctx is done. It returns at once when no URL is configured.
func (c *Collector) StartRemoteWrite(ctx context.Context) {
	if c == nil || c.mimir == nil {
		return
	}

	interval := c.config.FlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeToMimir(ctx); err != nil {
				c.logger.Warn("Remote write failed", zap.Error(err))
			}
		}
	}
}

func (c *Collector) writeToMimir(ctx context.Context) error {
	mfs, err := c.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	byTenant := metricsToSeries(mfs, time.Now())
	batchSize := c.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	for tenantID, series := range byTenant {
		for i := 0; i < len(series); i += batchSize {
			end := min(i+batchSize, len(series))
			if err := c.mimir.Push(ctx, tenantID, series[i:end]); err != nil {
				return fmt.Errorf("failed to send batch for tenant %s: %w", tenantID, err)
			}
		}
	}
	return nil
}

// metricsToSeries converts gathered families into remote-write series grouped
// by their tenant_id label. Series without a tenant are skipped.
func metricsToSeries(mfs []*dto.MetricFamily, now time.Time) map[string][]prompb.TimeSeries {
	ts := now.UnixMilli()
	out := make(map[string][]prompb.TimeSeries)

	for _, mf := range mfs {
		for _, m := range mf.Metric {
			var tenantID string
			labels := make([]prompb.Label, 0, len(m.Label)+2)
			for _, l := range m.Label {
				if l.GetName() == "tenant_id" {
					tenantID = l.GetValue()
				}
				labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}
			if tenantID == "" {
				continue
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[tenantID] = append(out[tenantID], series(mf.GetName(), labels, m.Counter.GetValue(), ts))
			case dto.MetricType_GAUGE:
				out[tenantID] = append(out[tenantID], series(mf.GetName(), labels, m.Gauge.GetValue(), ts))
			case dto.MetricType_HISTOGRAM:
				hist := m.Histogram
				for _, bucket := range hist.Bucket {
					bucketLabels := append(append([]prompb.Label{}, labels...), prompb.Label{
						Name:  "le",
						Value: fmt.Sprintf("%g", bucket.GetUpperBound()),
					})
					out[tenantID] = append(out[tenantID],
						series(mf.GetName()+"_bucket", bucketLabels, float64(bucket.GetCumulativeCount()), ts))
				}
				infLabels := append(append([]prompb.Label{}, labels...), prompb.Label{Name: "le", Value: "+Inf"})
				out[tenantID] = append(out[tenantID],
					series(mf.GetName()+"_bucket", infLabels, float64(hist.GetSampleCount()), ts),
					series(mf.GetName()+"_sum", labels, hist.GetSampleSum(), ts),
					series(mf.GetName()+"_count", labels, float64(hist.GetSampleCount()), ts),
				)
			}
		}
	}
	return out
}

func series(name string, labels []prompb.Label, value float64, ts int64) prompb.TimeSeries {
	all := append(append([]prompb.Label{}, labels...), prompb.Label{Name: "__name__", Value: name})
	return prompb.TimeSeries{
		Labels:  all,
		Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
	}
}
