package send

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"USync/module/update/model"
)

// Store 消息主存储。两个唯一约束是发送幂等的最终防线：
// (chat_id, message_id) 与 (sender_id, random_id)。
type Store interface {
	InsertMessage(ctx context.Context, m *model.MessageModel) error
	FindByRandomID(ctx context.Context, senderID, randomID int64) (*model.MessageModel, error)
	// NextMessageID 会话内自增消息号
	NextMessageID(ctx context.Context, chatID int64) (int64, error)
	IsDupRandomErr(err error) bool
	IsDupMessageErr(err error) bool
}

// ErrMsgNotFound 按 randomId 查不到
var ErrMsgNotFound = errors.New("message not found")

var (
	errDupRandom  = errors.New("duplicate (sender_id, random_id)")
	errDupMessage = errors.New("duplicate (chat_id, message_id)")
)

// memStore 内存实现，单测用
type memStore struct {
	mu       sync.Mutex
	byRandom map[[2]int64]*model.MessageModel // (sender, random)
	byMsg    map[[2]int64]*model.MessageModel // (chat, msgId)
	counters map[int64]int64
}

func NewMemStore() Store {
	return &memStore{
		byRandom: make(map[[2]int64]*model.MessageModel),
		byMsg:    make(map[[2]int64]*model.MessageModel),
		counters: make(map[int64]int64),
	}
}

func (s *memStore) InsertMessage(_ context.Context, m *model.MessageModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rk := [2]int64{m.SenderID, m.RandomID}
	mk := [2]int64{m.ChatID, m.MessageID}
	if m.RandomID != 0 {
		if _, ok := s.byRandom[rk]; ok {
			return errDupRandom
		}
	}
	if _, ok := s.byMsg[mk]; ok {
		return errDupMessage
	}
	cp := *m
	if m.RandomID != 0 {
		s.byRandom[rk] = &cp
	}
	s.byMsg[mk] = &cp
	return nil
}

func (s *memStore) FindByRandomID(_ context.Context, senderID, randomID int64) (*model.MessageModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byRandom[[2]int64{senderID, randomID}]
	if !ok {
		return nil, ErrMsgNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) NextMessageID(_ context.Context, chatID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[chatID]++
	return s.counters[chatID], nil
}

func (s *memStore) IsDupRandomErr(err error) bool  { return errors.Is(err, errDupRandom) }
func (s *memStore) IsDupMessageErr(err error) bool { return errors.Is(err, errDupMessage) }
