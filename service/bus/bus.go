package bus

import (
	"encoding/json"
	"time"

	"USync/module/update/model"
)

// Event 节点间广播的一条已落库更新。Key=BucketKey 走 hash 分区，
// 同一 bucket 的事件在分区内保序。
type Event struct {
	BucketKey string        `json:"bucketKey"`
	Seq       int64         `json:"seq"`
	Date      int64         `json:"date"`
	Stored    *model.Stored `json:"stored"`
}

const DefaultTopic = "usync.updates"

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func ParseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// LocalDeliverer 消费侧的投递出口（网关的本地推送入口）
type LocalDeliverer interface {
	Deliver(bucket model.Bucket, seq int64, date time.Time, stored *model.Stored)
}
