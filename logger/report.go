package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type streamStat struct {
	frames int64
	bytes  int64
}

var (
	warnCount      sync.Map // component -> *int64
	errorCount     sync.Map // component -> *int64
	responsesTotal int64
	responseBytes  int64
	reconnects     int64
	streams        sync.Map // connection -> *streamStat
)

func bump(m *sync.Map, key string) {
	if key == "" {
		key = "unknown"
	}
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string)  { bump(&warnCount, component) }
func recordError(component string) { bump(&errorCount, component) }

// RecordFrame counts one inbound WebSocket frame for a connection.
func RecordFrame(connection string, size int) {
	v, _ := streams.LoadOrStore(connection, &streamStat{})
	st := v.(*streamStat)
	atomic.AddInt64(&st.frames, 1)
	atomic.AddInt64(&st.bytes, int64(size))
}

// RecordResponse counts one REST response body.
func RecordResponse(size int) {
	atomic.AddInt64(&responsesTotal, 1)
	atomic.AddInt64(&responseBytes, int64(size))
}

// RecordReconnect counts one reconnect attempt.
func RecordReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// Snapshot is a point-in-time copy of the runtime counters.
type Snapshot struct {
	Warns         map[string]int64
	Errors        map[string]int64
	Frames        map[string]int64
	FrameBytes    map[string]int64
	Responses     int64
	ResponseBytes int64
	Reconnects    int64
}

// TotalFrames sums frames across connections.
func (s Snapshot) TotalFrames() int64 {
	var n int64
	for _, v := range s.Frames {
		n += v
	}
	return n
}

// Counters returns the current runtime counters.
func Counters() Snapshot {
	s := Snapshot{
		Warns:         loadCounts(&warnCount),
		Errors:        loadCounts(&errorCount),
		Frames:        map[string]int64{},
		FrameBytes:    map[string]int64{},
		Responses:     atomic.LoadInt64(&responsesTotal),
		ResponseBytes: atomic.LoadInt64(&responseBytes),
		Reconnects:    atomic.LoadInt64(&reconnects),
	}
	streams.Range(func(k, v any) bool {
		st := v.(*streamStat)
		s.Frames[k.(string)] = atomic.LoadInt64(&st.frames)
		s.FrameBytes[k.(string)] = atomic.LoadInt64(&st.bytes)
		return true
	})
	return s
}

func loadCounts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// StartReport logs and publishes a runtime report every interval until ctx
// is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	c := Counters()

	cpuPct := 0.0
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	var memUsedMB float64
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memUsedMB = float64(vm.Used) / 1024 / 1024
	}
	var sent, recv uint64
	if io, err := gnet.IOCountersWithContext(ctx, false); err == nil && len(io) > 0 {
		sent, recv = io[0].BytesSent, io[0].BytesRecv
	}
	goroutines := runtime.NumGoroutine()

	log.WithComponent("report").WithFields(Fields{
		"warns":          c.Warns,
		"errors":         c.Errors,
		"frames":         c.Frames,
		"frame_bytes":    c.FrameBytes,
		"responses":      c.Responses,
		"response_bytes": c.ResponseBytes,
		"reconnects":     c.Reconnects,
		"goroutines":     goroutines,
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsedMB),
		"net_bytes_sent": sent,
		"net_bytes_recv": recv,
	}).Info("runtime report")

	publishMetrics(ctx, reportDatums(c, cpuPct, memUsedMB, goroutines))
}

func reportDatums(c Snapshot, cpuPct, memMB float64, goroutines int) []cwtypes.MetricDatum {
	datum := func(name string, unit cwtypes.StandardUnit, v float64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: unit, Value: aws.Float64(v)}
	}
	data := []cwtypes.MetricDatum{
		datum("Mirror-CPUPercent", cwtypes.StandardUnitPercent, cpuPct),
		datum("Mirror-MemoryMB", cwtypes.StandardUnitMegabytes, memMB),
		datum("Mirror-Goroutines", cwtypes.StandardUnitCount, float64(goroutines)),
		datum("Mirror-FramesReceived", cwtypes.StandardUnitCount, float64(c.TotalFrames())),
		datum("Mirror-ResponsesReceived", cwtypes.StandardUnitCount, float64(c.Responses)),
		datum("Mirror-Reconnects", cwtypes.StandardUnitCount, float64(c.Reconnects)),
	}

	names := make([]string, 0, len(c.Frames))
	for name := range c.Frames {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dim := []cwtypes.Dimension{{Name: aws.String("Connection"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("Mirror-ConnectionFrames"), Unit: cwtypes.StandardUnitCount, Dimensions: dim, Value: aws.Float64(float64(c.Frames[name]))},
			cwtypes.MetricDatum{MetricName: aws.String("Mirror-ConnectionBytes"), Unit: cwtypes.StandardUnitBytes, Dimensions: dim, Value: aws.Float64(float64(c.FrameBytes[name]))},
		)
	}
	return data
}
