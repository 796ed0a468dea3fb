package store

import (
	"errors"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store 客户端本地库（纯 Go sqlite，免 CGO）。
// 写入只允许经 applier 的事务入口，读随意。
type Store struct {
	db *gorm.DB
}

// Open dsn 为文件路径，":memory:" 则纯内存（测试）。
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Chat{}, &Dialog{}, &Message{}, &Cursor{}, &Member{}, &Reaction{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) DB() *gorm.DB { return s.db }

// Transaction 串行事务入口；fn 内只用传入的 tx
func (s *Store) Transaction(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---- 读辅助（事务外也可用） ----

func (s *Store) GetDialog(chatID int64) (*Dialog, error) {
	var d Dialog
	err := s.db.First(&d, "chat_id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &d, err
}

func (s *Store) GetChat(chatID int64) (*Chat, error) {
	var c Chat
	err := s.db.First(&c, "id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &c, err
}

func (s *Store) GetMessage(chatID, messageID int64) (*Message, error) {
	var m Message
	err := s.db.First(&m, "chat_id = ? AND message_id = ?", chatID, messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &m, err
}

func (s *Store) FindMessageByRandomID(randomID int64) (*Message, error) {
	var m Message
	err := s.db.First(&m, "random_id = ?", randomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &m, err
}

func (s *Store) CursorSeq(bucketKey string) (int64, error) {
	var c Cursor
	err := s.db.First(&c, "bucket_key = ?", bucketKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Seq, nil
}
