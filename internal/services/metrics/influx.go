// Package metrics exports output-loop telemetry to InfluxDB.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bbernstein/lacylights-engine/internal/config"
	"github.com/bbernstein/lacylights-engine/internal/logger"
)

const (
	pingTimeout          = 5 * time.Second
	defaultFlushInterval = 1000 // milliseconds
	batchSize            = 500
)

// ErrDisabled is returned by Connect when InfluxDB export is off.
var ErrDisabled = errors.New("metrics: influxdb disabled")

// PointWriter is the part of the InfluxDB write API the exporter needs.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Client is a connected, non-blocking InfluxDB writer.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Connect pings the server and opens a batching write API. Write errors are logged.
func Connect(cfg config.InfluxDBConfig, log *logger.Log) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(uint(flush)))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("metrics: ping %s: %w", cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("metrics: %s not healthy", cfg.URL)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	mlog := log.Module("metrics")
	go func() {
		for err := range writeAPI.Errors() {
			mlog.WithError(err).Warn("InfluxDB write failed")
		}
	}()

	mlog.WithField("url", cfg.URL).Info("📈 InfluxDB metrics export enabled")
	return &Client{client: client, writeAPI: writeAPI}, nil
}

// WritePoint queues a point for the next batch.
func (c *Client) WritePoint(p *write.Point) {
	c.writeAPI.WritePoint(p)
}

// Close flushes pending points and closes the connection.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}
