// Package tsdb exports host telemetry to InfluxDB.
package tsdb

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/vesaa/healdash/internal/config"
	"github.com/vesaa/healdash/internal/models"
)

const (
	measurementSystem = "system_metrics"
	measurementDrive  = "drive_usage"
)

// InfluxSink writes SystemMetrics samples with the blocking write API.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxSink connects lazily; nothing is sent until the first write.
// It returns nil when cfg.URL is empty.
func NewInfluxSink(cfg config.InfluxConfig) *InfluxSink {
	if cfg.URL == "" {
		return nil
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		org:      cfg.Org,
		bucket:   cfg.Bucket,
	}
}

// WriteSystemMetrics writes m as one host point plus one point per drive.
func (s *InfluxSink) WriteSystemMetrics(ctx context.Context, m models.SystemMetrics) error {
	if err := s.writeAPI.WritePoint(ctx, Points(m)...); err != nil {
		return fmt.Errorf("influx write to %s/%s: %w", s.org, s.bucket, err)
	}
	return nil
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

// Points converts one sample to line-protocol points.
func Points(m models.SystemMetrics) []*write.Point {
	p := influxdb2.NewPointWithMeasurement(measurementSystem).
		AddTag("client_id", m.ClientID).
		AddField("cpu_usage", m.CPUUsage).
		AddField("ram_usage", m.RAMUsage).
		AddField("ram_total", m.RAMTotal).
		AddField("network_upload", m.NetworkUpload).
		AddField("network_download", m.NetworkDownload).
		SetTime(m.Timestamp)
	if m.GPUUsage != nil {
		p.AddField("gpu_usage", *m.GPUUsage)
	}

	points := []*write.Point{p}
	for _, d := range m.Drives {
		points = append(points, influxdb2.NewPoint(measurementDrive,
			map[string]string{"client_id": m.ClientID, "drive": d.Name},
			map[string]interface{}{
				"total":      d.Total,
				"used":       d.Used,
				"free":       d.Free,
				"percentage": d.Percentage,
			},
			m.Timestamp))
	}
	return points
}
