package writer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	appconfig "cryptostream/config"
	"cryptostream/models"
)

func sampleBatch() models.Batch {
	return models.Batch{
		BatchID:   "0f8fad5b-d9cb-469f-a165-70867728950e",
		Kind:      models.KindTrade,
		Symbol:    "ETHBTC",
		Timestamp: time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC),
		Records: []models.Record{
			{Symbol: "ETHBTC", Kind: models.KindTrade, EventTime: 1, TradeID: 7, Price: models.MustDecimal("0.00100000"), Quantity: models.MustDecimal("100")},
			{Symbol: "ETHBTC", Kind: models.KindTrade, EventTime: 2, TradeID: 8, Price: models.MustDecimal("0.0712"), Quantity: models.MustDecimal("1.50")},
		},
		RecordCount: 2,
	}
}

func TestObjectKey(t *testing.T) {
	key := objectKey("binance", sampleBatch())
	assert.True(t, strings.HasPrefix(key, "binance/kind=trade/symbol=ETHBTC/year=2024/month=03/day=09/hour=14/trade_ETHBTC_"), key)
	assert.True(t, strings.HasSuffix(key, "_0f8fad5b.parquet"), key)

	assert.True(t, strings.HasPrefix(objectKey("", sampleBatch()), "kind=trade/"))
}

func TestParquetWriterLocalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	batches := make(chan models.Batch, 1)
	w := NewParquetWriter(batches, &LocalStore{Dir: dir}, "/binance/")
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	batches <- sampleBatch()
	close(batches)
	w.Stop()

	stats := w.Stats()
	require.Equal(t, int64(1), stats.FilesWritten)
	assert.Zero(t, stats.ErrorsCount)

	var files []string
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	require.Len(t, files, 1)
	assert.Contains(t, files[0], filepath.Join("binance", "kind=trade", "symbol=ETHBTC"))

	fr, err := local.NewLocalFileReader(files[0])
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	require.Equal(t, int64(2), pr.GetNumRows())
	rows := make([]parquetRecord, 2)
	require.NoError(t, pr.Read(&rows))
	assert.Equal(t, "0.00100000", rows[0].Price)
	assert.Equal(t, "1.50", rows[1].Quantity)
	assert.Equal(t, int64(8), rows[1].TradeID)
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte) error { return errors.New("boom") }
func (failingStore) Name() string                              { return "failing" }

func TestParquetWriterCountsStoreErrors(t *testing.T) {
	batches := make(chan models.Batch, 1)
	w := NewParquetWriter(batches, failingStore{}, "")
	require.NoError(t, w.Start(context.Background()))
	batches <- sampleBatch()
	close(batches)
	w.Stop()

	assert.Equal(t, int64(1), w.Stats().ErrorsCount)
	assert.Zero(t, w.Stats().FilesWritten)
}

func TestNewObjectStoreDefaultsToLocal(t *testing.T) {
	store, err := NewObjectStore(context.Background(), appconfig.StorageConfig{})
	require.NoError(t, err)
	assert.Equal(t, "local", store.Name())
	assert.Equal(t, "data", store.(*LocalStore).Dir)
}

type fakeProducer struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeProducer) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestKafkaWriterPublishesEnvelopes(t *testing.T) {
	events := make(chan models.Event, 2)
	producer := &fakeProducer{}
	kw := newKafkaWriter(events, producer)
	require.NoError(t, kw.Start(context.Background()))

	events <- models.Trade{EventType: "trade", Symbol: "ETHBTC", Price: models.MustDecimal("0.00100000"), Quantity: models.MustDecimal("1")}
	events <- models.Tickers{}
	close(events)
	kw.Stop()

	require.Len(t, producer.msgs, 2)
	assert.True(t, producer.closed)
	assert.Equal(t, "ETHBTC", string(producer.msgs[0].Key))
	assert.Empty(t, producer.msgs[1].Key)

	var env struct {
		Kind   string          `json:"kind"`
		Symbol string          `json:"symbol"`
		Event  json.RawMessage `json:"event"`
	}
	require.NoError(t, json.Unmarshal(producer.msgs[0].Value, &env))
	assert.Equal(t, "trade", env.Kind)
	assert.Equal(t, "ETHBTC", env.Symbol)
	assert.Contains(t, string(env.Event), `"p":"0.00100000"`)
	assert.Equal(t, int64(2), kw.Stats().BatchesWritten)
}

func TestNewKafkaWriterRequiresBrokers(t *testing.T) {
	_, err := NewKafkaWriter(appconfig.KafkaConfig{Topic: "t"}, make(chan models.Event))
	assert.Error(t, err)
}
