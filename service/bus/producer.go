package bus

import (
	"time"

	"github.com/Shopify/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"USync/logger"
	"USync/module/update/model"
)

var publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "usync_bus_publish_total",
	Help: "bus publishes by outcome.",
}, []string{"outcome"})

// BuildProducerConfig hash 分区器是保序的关键：同一 bucketKey 永远同一分区
func BuildProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// Producer 实现 seqlog.Sink：落库后把更新广播给所有网关节点。
type Producer struct {
	prod  sarama.SyncProducer
	topic string
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	p, err := sarama.NewSyncProducer(brokers, BuildProducerConfig())
	if err != nil {
		return nil, err
	}
	return &Producer{prod: p, topic: topic}, nil
}

func (p *Producer) Deliver(bucket model.Bucket, seq int64, date time.Time, stored *model.Stored) {
	ev := &Event{BucketKey: bucket.Key(), Seq: seq, Date: date.Unix(), Stored: stored}
	payload, err := ev.Marshal()
	if err != nil {
		logger.Errorf("[bus] marshal bucket=%s seq=%d: %v", ev.BucketKey, seq, err)
		return
	}
	_, _, err = p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.BucketKey),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		// 推送是加速层，失败只计数；客户端靠拉补
		logger.Errorf("[bus] publish bucket=%s seq=%d: %v", ev.BucketKey, seq, err)
		publishTotal.WithLabelValues("error").Inc()
		return
	}
	publishTotal.WithLabelValues("ok").Inc()
}

func (p *Producer) Close() error {
	return p.prod.Close()
}
