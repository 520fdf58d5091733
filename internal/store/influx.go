package store

import (
	"context"

	"codeberg.org/mutker/peripheralpm/internal/config"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/perfstats"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx writes one point per device attribute and window, tagged by device,
// attribute, category and window. Empty windows are skipped.
type Influx struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
}

// NewInflux connects to the configured server and checks its health.
func NewInflux(ctx context.Context, cfg config.InfluxDBConfig) (*Influx, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, errors.New().Wrap(ErrStoreInit, err)
	}
	if health.Status != domain.HealthCheckStatusPass {
		client.Close()
		msg := "health check failed"
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, errors.New().WithMessage(ErrStoreInit, msg)
	}

	return &Influx{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}, nil
}

func (*Influx) Name() string {
	return string(config.BackendInfluxDB)
}

func (i *Influx) Publish(ctx context.Context, records []Record) error {
	points := influxPoints(i.measurement, records)
	if len(points) == 0 {
		return nil
	}

	if err := i.writer.WritePoint(ctx, points...); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

func (i *Influx) Close() error {
	if i.client != nil {
		i.client.Close()
	}
	return nil
}

func influxPoints(measurement string, records []Record) []*write.Point {
	var points []*write.Point

	for _, rec := range records {
		for _, size := range perfstats.WindowSizes {
			w := rec.Stats.Window(size)
			avg, ok := w.Average()
			if !ok {
				continue
			}

			tags := map[string]string{
				"device":    rec.Device,
				"attribute": string(rec.Attribute),
				"category":  string(rec.Category),
				"window":    size.String(),
			}
			fields := map[string]interface{}{
				"current":      w.Current,
				"average":      avg,
				"min":          w.Min,
				"max":          w.Max,
				"count":        w.Count,
				"window_start": w.WindowStart.Unix(),
			}

			points = append(points, influxdb2.NewPoint(measurement, tags, fields, rec.PublishedAt))
		}
	}

	return points
}
