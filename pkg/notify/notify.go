// Package notify publishes committed trades to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// TradeSink receives trades after the call that produced them commits.
type TradeSink interface {
	PublishTrade(ctx context.Context, t *orderbook.Trade) error
}

// KafkaSink writes one message per trade, keyed by pair so a pair's trades
// stay ordered within a partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, topic), nil
}

func NewKafkaSinkWithProducer(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic}
}

func (k *KafkaSink) PublishTrade(_ context.Context, t *orderbook.Trade) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(t.PairID, 10)),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish trade %d: %w", t.ID, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}

// Fanout delivers each trade to every sink. A failing sink is logged and
// does not stop the others.
type Fanout struct {
	sinks []TradeSink
	log   *zap.SugaredLogger
}

func NewFanout(log *zap.SugaredLogger, sinks ...TradeSink) *Fanout {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Fanout{sinks: sinks, log: log}
}

// Add registers another sink.
func (f *Fanout) Add(s TradeSink) { f.sinks = append(f.sinks, s) }

func (f *Fanout) PublishTrade(ctx context.Context, t *orderbook.Trade) error {
	var failed int
	for _, s := range f.sinks {
		if err := s.PublishTrade(ctx, t); err != nil {
			failed++
			f.log.Warnw("trade_publish_failed", "trade", t.ID, "pair", t.PairID, "err", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sinks failed for trade %d", failed, len(f.sinks), t.ID)
	}
	return nil
}
