package typing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"USync/logger"
	"USync/module/update/model"
)

// 输入状态是纯瞬态：不落日志、不占 seq、掉了就掉了。
// 走 NATS 而不是 kafka，省去分区与留存的开销。

const subjectPrefix = "usync.compose."

type Notice struct {
	ChatID int64  `json:"chatId"`
	UserID int64  `json:"userId"`
	Action string `json:"action"` // typing / uploading_photo / none ...
	Date   int64  `json:"date"`
}

type Bus struct {
	nc *nats.Conn
}

func NewBus(url string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[typing] nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("[typing] nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{nc: nc}, nil
}

func subject(chatID int64) string {
	return fmt.Sprintf("%s%d", subjectPrefix, chatID)
}

func (b *Bus) Publish(chatID, userID int64, action string) error {
	payload, err := json.Marshal(&Notice{
		ChatID: chatID, UserID: userID, Action: action, Date: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return b.nc.Publish(subject(chatID), payload)
}

// SubscribeAll 订阅全部会话的输入状态；handler 收到的 stored
// 可直接走 inflate 推给订阅了该会话桶的连接（seq=0，瞬态）。
func (b *Bus) SubscribeAll(handler func(chatID int64, stored *model.Stored)) (*nats.Subscription, error) {
	return b.nc.Subscribe(subjectPrefix+"*", func(msg *nats.Msg) {
		var n Notice
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			logger.Warnf("[typing] bad notice: %v", err)
			return
		}
		handler(n.ChatID, model.ComposeActionUpdate(&model.StoredComposeAction{
			Peer:   model.ThreadPeer(n.ChatID),
			UserID: n.UserID,
			Action: n.Action,
		}))
	})
}

func (b *Bus) Close() {
	b.nc.Close()
}
