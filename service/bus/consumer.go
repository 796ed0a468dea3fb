package bus

import (
	"context"
	"time"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"

	"USync/logger"
	"USync/module/update/model"
	"USync/tools/safe"
)

// groupHandler 把总线事件回放到本节点网关
type groupHandler struct {
	deliver LocalDeliverer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	glog.Info("[bus] consumer group setup")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	glog.Info("[bus] consumer group cleanup")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ev, err := ParseEvent(msg.Value)
		if err != nil {
			glog.Warningf("[bus] bad event partition=%d offset=%d: %v", msg.Partition, msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}
		bucket, err := model.ParseBucket(ev.BucketKey)
		if err != nil {
			glog.Warningf("[bus] bad bucket key %q: %v", ev.BucketKey, err)
			session.MarkMessage(msg, "")
			continue
		}
		h.deliver.Deliver(bucket, ev.Seq, time.Unix(ev.Date, 0), ev.Stored)
		session.MarkMessage(msg, "")
	}
	return nil
}

// StartConsumer 每个网关节点一个独立 groupID（广播语义：人人都收全量）。
// ctx 取消时退出。
func StartConsumer(ctx context.Context, brokers []string, groupID, topic string, deliver LocalDeliverer) error {
	if topic == "" {
		topic = DefaultTopic
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return err
	}
	safe.SafeGo(func() {
		for gerr := range group.Errors() {
			logger.Errorf("[bus] consumer group: %v", gerr)
		}
	})
	safe.SafeGo(func() {
		defer func() {
			if cerr := group.Close(); cerr != nil {
				logger.Warnf("[bus] close group: %v", cerr)
			}
		}()
		handler := &groupHandler{deliver: deliver}
		for {
			if ctx.Err() != nil {
				return
			}
			if cerr := group.Consume(ctx, []string{topic}, handler); cerr != nil {
				logger.Errorf("[bus] consume: %v", cerr)
				time.Sleep(time.Second)
			}
		}
	})
	return nil
}
