package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	eventsReceived int64
	bytesReceived  int64
	decodeErrors   int64
	disconnects    int64
	objectsWritten int64
	warnCounts     sync.Map // map[string]*int64, keyed by component
	errorCounts    sync.Map // map[string]*int64, keyed by component
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	incr(&warnCounts, component)
}

func recordError(component string) {
	incr(&errorCounts, component)
}

func incr(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func snapshot(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// RecordEvent counts one decoded event of the given kind and its frame size.
func RecordEvent(kind string, size int) {
	atomic.AddInt64(&eventsReceived, 1)
	atomic.AddInt64(&bytesReceived, int64(size))
	recordChannel("ws_"+kind, size)
}

func RecordDecodeError() {
	atomic.AddInt64(&decodeErrors, 1)
}

func RecordDisconnect() {
	atomic.AddInt64(&disconnects, 1)
}

// RecordObjectWritten counts one object handed to a sink such as s3, local
// or kafka.
func RecordObjectWritten(sink string, size int64) {
	atomic.AddInt64(&objectsWritten, 1)
	recordChannel(sink+"_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and stream statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func reportFields() Fields {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	return Fields{
		"events_received": atomic.LoadInt64(&eventsReceived),
		"bytes_received":  atomic.LoadInt64(&bytesReceived),
		"decode_errors":   atomic.LoadInt64(&decodeErrors),
		"disconnects":     atomic.LoadInt64(&disconnects),
		"objects_written": atomic.LoadInt64(&objectsWritten),
		"warns":           snapshot(&warnCounts),
		"errors":          snapshot(&errorCounts),
		"goroutines":      runtime.NumGoroutine(),
		"heap_mb":         int64(mem.HeapAlloc) / 1024 / 1024,
		"gc_cycles":       mem.NumGC,
		"channels":        channelData,
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := reportFields()
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	count := func(name, key string) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(fields[key].(int64))),
		}
	}
	data := []cwtypes.MetricDatum{
		count("EventsReceived", "events_received"),
		count("DecodeErrors", "decode_errors"),
		count("Disconnects", "disconnects"),
		count("ObjectsWritten", "objects_written"),
		{MetricName: aws.String("BytesReceived"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(fields["bytes_received"].(int64)))},
		{MetricName: aws.String("HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(fields["heap_mb"].(int64)))},
		{MetricName: aws.String("Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["goroutines"].(int)))},
	}

	for name, stats := range fields["channels"].(map[string]map[string]int64) {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
