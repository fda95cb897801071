package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
)

// parquetRecord is the on-disk row. Prices and quantities stay strings so
// the exchange's scale survives.
type parquetRecord struct {
	Symbol       string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind         string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventTime    int64  `parquet:"name=event_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	TradeID      int64  `parquet:"name=trade_id, type=INT64"`
	Price        string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity     string `parquet:"name=quantity, type=BYTE_ARRAY, convertedtype=UTF8"`
	IsBuyerMaker bool   `parquet:"name=is_buyer_maker, type=BOOLEAN"`
	Interval     string `parquet:"name=interval, type=BYTE_ARRAY, convertedtype=UTF8"`
	OpenTime     int64  `parquet:"name=open_time, type=INT64"`
	CloseTime    int64  `parquet:"name=close_time, type=INT64"`
	Open         string `parquet:"name=open, type=BYTE_ARRAY, convertedtype=UTF8"`
	High         string `parquet:"name=high, type=BYTE_ARRAY, convertedtype=UTF8"`
	Low          string `parquet:"name=low, type=BYTE_ARRAY, convertedtype=UTF8"`
	Closed       bool   `parquet:"name=closed, type=BOOLEAN"`
	ReceivedTime int64  `parquet:"name=received_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// ParquetWriter encodes each incoming batch as one parquet object and
// hands it to the store. It runs until the batch channel is closed.
type ParquetWriter struct {
	batches <-chan models.Batch
	store   ObjectStore
	prefix  string
	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log
	stats   metrics.WriterStats
}

func NewParquetWriter(batches <-chan models.Batch, store ObjectStore, prefix string) *ParquetWriter {
	return &ParquetWriter{
		batches: batches,
		store:   store,
		prefix:  strings.Trim(prefix, "/"),
		log:     logger.GetLogger(),
	}
}

func (w *ParquetWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("parquet writer already running")
	}
	w.running = true
	// uploads still in flight at shutdown are allowed to finish
	w.ctx = context.WithoutCancel(ctx)
	w.mu.Unlock()

	w.wg.Add(1)
	go w.worker()

	w.log.WithComponent("parquet_writer").WithFields(logger.Fields{
		"store":  w.store.Name(),
		"prefix": w.prefix,
	}).Info("parquet writer started")
	return nil
}

// Stop waits until the batch channel has been drained. The channel must be
// closed by its owner.
func (w *ParquetWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	metrics.ReportWriter(w.log, "parquet_writer", w.Stats())
	w.log.WithComponent("parquet_writer").Info("parquet writer stopped")
}

func (w *ParquetWriter) Stats() metrics.WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.InputChannelLen = len(w.batches)
	s.InputChannelCap = cap(w.batches)
	return s
}

func (w *ParquetWriter) worker() {
	defer w.wg.Done()
	for batch := range w.batches {
		w.writeBatch(batch)
	}
}

func (w *ParquetWriter) writeBatch(batch models.Batch) {
	log := w.log.WithComponent("parquet_writer").WithFields(logger.Fields{
		"batch_id": batch.BatchID,
		"symbol":   batch.Symbol,
		"kind":     string(batch.Kind),
	})

	data, err := encodeParquet(batch.Records)
	if err != nil {
		w.countError()
		log.WithError(err).Error("create parquet failed")
		return
	}
	key := objectKey(w.prefix, batch)
	if err := w.store.Put(w.ctx, key, data); err != nil {
		w.countError()
		log.WithError(err).Error("store parquet object failed")
		return
	}

	w.mu.Lock()
	w.stats.BatchesWritten++
	w.stats.FilesWritten++
	w.stats.BytesWritten += int64(len(data))
	w.mu.Unlock()
	logger.RecordObjectWritten(w.store.Name(), int64(len(data)))
	log.WithFields(logger.Fields{"key": key, "records": batch.RecordCount, "bytes": len(data)}).Info("batch stored")
}

func (w *ParquetWriter) countError() {
	w.mu.Lock()
	w.stats.ErrorsCount++
	w.mu.Unlock()
}

func encodeParquet(records []models.Record) ([]byte, error) {
	mw := newMemFileWriter()
	pw, err := writer.NewParquetWriter(mw, new(parquetRecord), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range records {
		rec := parquetRecord{
			Symbol:       r.Symbol,
			Kind:         string(r.Kind),
			EventTime:    r.EventTime,
			TradeID:      r.TradeID,
			Price:        r.Price.String(),
			Quantity:     r.Quantity.String(),
			IsBuyerMaker: r.IsBuyerMaker,
			Interval:     r.Interval,
			OpenTime:     r.OpenTime,
			CloseTime:    r.CloseTime,
			Open:         r.Open.String(),
			High:         r.High.String(),
			Low:          r.Low.String(),
			Closed:       r.Closed,
			ReceivedTime: r.ReceivedTime,
		}
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mw.Bytes(), nil
}

// objectKey lays batches out in hive-style partitions:
// <prefix>/kind=<k>/symbol=<s>/year=/month=/day=/hour=/<kind>_<symbol>_<nanos>_<id>.parquet
func objectKey(prefix string, batch models.Batch) string {
	ts := batch.Timestamp.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	parts := []string{
		fmt.Sprintf("kind=%s", batch.Kind),
		fmt.Sprintf("symbol=%s", batch.Symbol),
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", int(ts.Month())),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
	}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	id := batch.BatchID
	if len(id) > 8 {
		id = id[:8]
	}
	filename := fmt.Sprintf("%s_%s_%d_%s.parquet", batch.Kind, batch.Symbol, ts.UnixNano(), id)
	return path.Join(append(parts, filename)...)
}
