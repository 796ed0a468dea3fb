package model

import (
	"fmt"
	"strconv"
	"strings"
)

// BucketKind 投递分区类型：用户 / 会话 / 空间，各自独立计数。
type BucketKind int32

const (
	BucketUser  BucketKind = 1
	BucketChat  BucketKind = 2
	BucketSpace BucketKind = 3
)

// Bucket 更新日志的逻辑投递地址。构造时即确定类型，不允许零值使用。
type Bucket struct {
	Kind BucketKind
	ID   int64
}

func UserBucket(userID int64) Bucket   { return Bucket{Kind: BucketUser, ID: userID} }
func ChatBucket(chatID int64) Bucket   { return Bucket{Kind: BucketChat, ID: chatID} }
func SpaceBucket(spaceID int64) Bucket { return Bucket{Kind: BucketSpace, ID: spaceID} }

// Key 存储键："u:<id>" / "c:<id>" / "s:<id>"
func (b Bucket) Key() string {
	switch b.Kind {
	case BucketUser:
		return "u:" + strconv.FormatInt(b.ID, 10)
	case BucketChat:
		return "c:" + strconv.FormatInt(b.ID, 10)
	case BucketSpace:
		return "s:" + strconv.FormatInt(b.ID, 10)
	}
	return "?:" + strconv.FormatInt(b.ID, 10)
}

func (b Bucket) String() string { return b.Key() }

func (b Bucket) Valid() bool {
	switch b.Kind {
	case BucketUser, BucketChat, BucketSpace:
		return b.ID > 0
	}
	return false
}

// ParseBucket Key() 的逆操作
func ParseBucket(key string) (Bucket, error) {
	i := strings.IndexByte(key, ':')
	if i != 1 {
		return Bucket{}, fmt.Errorf("bad bucket key %q", key)
	}
	id, err := strconv.ParseInt(key[2:], 10, 64)
	if err != nil || id <= 0 {
		return Bucket{}, fmt.Errorf("bad bucket key %q", key)
	}
	switch key[0] {
	case 'u':
		return UserBucket(id), nil
	case 'c':
		return ChatBucket(id), nil
	case 's':
		return SpaceBucket(id), nil
	}
	return Bucket{}, fmt.Errorf("bad bucket key %q", key)
}
