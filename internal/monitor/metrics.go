package monitor

import (
	"context"
	"time"

	influxdb "github.com/influxdata/influxdb/client/v2"
	"github.com/prometheus/tsdb"
	"github.com/prometheus/tsdb/labels"

	"github.com/fuzzland/ityfuzz-go/internal/fuzzer"
	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var metricsLog = ilog.New("component", "monitor.metrics")

// TSDBSink appends one sample per tick for the campaign's execution
// counter to a local on-disk time series, independent of any InfluxDB
// push path — a durable execution-count-over-time record that
// survives a campaign restart without needing a remote service.
type TSDBSink struct {
	db *tsdb.DB
}

func OpenTSDBSink(dir string) (*TSDBSink, error) {
	db, err := tsdb.Open(dir, nil, nil, tsdb.DefaultOptions())
	if err != nil {
		return nil, err
	}
	return &TSDBSink{db: db}, nil
}

func (s *TSDBSink) Append(t time.Time, executions uint64) error {
	app := s.db.Appender()
	lbls := labels.FromStrings("__name__", "ityfuzz_executions")
	if _, err := app.Add(lbls, t.UnixNano()/int64(time.Millisecond), float64(executions)); err != nil {
		app.Rollback()
		return err
	}
	return app.Commit()
}

func (s *TSDBSink) Close() error { return s.db.Close() }

// InfluxSink pushes the same counters to a remote InfluxDB instance over
// line protocol, for operators who already run an InfluxDB/Grafana stack.
type InfluxSink struct {
	client   influxdb.Client
	database string
}

func OpenInfluxSink(addr, database string) (*InfluxSink, error) {
	c, err := influxdb.NewHTTPClient(influxdb.HTTPConfig{Addr: addr})
	if err != nil {
		return nil, err
	}
	return &InfluxSink{client: c, database: database}, nil
}

func (s *InfluxSink) Push(t time.Time, executions uint64, bugHit bool) error {
	bp, err := influxdb.NewBatchPoints(influxdb.BatchPointsConfig{Database: s.database})
	if err != nil {
		return err
	}
	pt, err := influxdb.NewPoint("ityfuzz", map[string]string{}, map[string]interface{}{
		"executions": executions,
		"bug_hit":    bugHit,
	}, t)
	if err != nil {
		return err
	}
	bp.AddPoint(pt)
	return s.client.Write(bp)
}

func (s *InfluxSink) Close() error { return s.client.Close() }

// RunMetricsLoop samples the campaign and the process's own resource usage
// on every tick, feeding whichever sinks are non-nil, until ctx is
// cancelled. Process stats are logged even with both sinks disabled, so a
// campaign always has a CPU/RSS trail in its debug log.
func RunMetricsLoop(ctx context.Context, campaign *fuzzer.Campaign, tsdbSink *TSDBSink, influxSink *InfluxSink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if stats, err := SampleProcessStats(); err != nil {
				metricsLog.Debug("process stats unavailable", "err", err)
			} else {
				metricsLog.Debug("process stats", "cpu_percent", stats.CPUPercent, "rss_bytes", stats.RSSBytes)
			}

			s := snapshot(campaign)
			if tsdbSink != nil {
				if err := tsdbSink.Append(now, s.Executions); err != nil {
					metricsLog.Warn("tsdb append failed", "err", err)
				}
			}
			if influxSink != nil {
				if err := influxSink.Push(now, s.Executions, s.BugHit); err != nil {
					metricsLog.Warn("influxdb push failed", "err", err)
				}
			}
		}
	}
}
