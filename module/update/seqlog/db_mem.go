package seqlog

import (
	"context"
	"errors"
	"sort"
	"sync"

	"USync/module/update/model"
)

var ErrUniqueSeq = errors.New("unique (bucket,seq) violated")

// memDB 内存实现，单测与本地开发用
type memDB struct {
	mu      sync.RWMutex
	buckets map[string]struct{}
	recs    map[string]map[int64]*model.UpdateRecord // bucket -> seq -> rec
	maxSeq  map[string]int64
	minSeq  map[string]int64
}

func NewMemDB() *memDB {
	return &memDB{
		buckets: make(map[string]struct{}),
		recs:    make(map[string]map[int64]*model.UpdateRecord),
		maxSeq:  make(map[string]int64),
		minSeq:  make(map[string]int64),
	}
}

func (db *memDB) EnsureBucket(_ context.Context, bucketKey string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.buckets[bucketKey] = struct{}{}
	return nil
}

func (db *memDB) InsertRecord(_ context.Context, rec *model.UpdateRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m := db.recs[rec.BucketKey]
	if m == nil {
		m = make(map[int64]*model.UpdateRecord)
		db.recs[rec.BucketKey] = m
	}
	if _, ok := m[rec.Seq]; ok {
		return ErrUniqueSeq
	}
	cp := *rec
	m[rec.Seq] = &cp
	return nil
}

func (db *memDB) QueryMaxSeq(_ context.Context, bucketKey string) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.maxSeq[bucketKey], nil
}

func (db *memDB) QueryMinSeq(_ context.Context, bucketKey string) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.minSeq[bucketKey], nil
}

func (db *memDB) BumpMaxSeq(_ context.Context, bucketKey string, seq int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if seq > db.maxSeq[bucketKey] {
		db.maxSeq[bucketKey] = seq
	}
	return nil
}

// SetMinSeq 测试辅助：模拟历史清理
func (db *memDB) SetMinSeq(bucketKey string, seq int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if seq > db.minSeq[bucketKey] {
		db.minSeq[bucketKey] = seq
	}
	// 裁剪记录
	for s := range db.recs[bucketKey] {
		if s <= seq {
			delete(db.recs[bucketKey], s)
		}
	}
}

func (db *memDB) ListRange(_ context.Context, bucketKey string, afterSeq, endSeq int64, limit int) ([]*model.UpdateRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	m := db.recs[bucketKey]
	if len(m) == 0 {
		return nil, nil
	}
	seqs := make([]int64, 0, len(m))
	for s := range m {
		if s > afterSeq && (endSeq <= 0 || s <= endSeq) {
			seqs = append(seqs, s)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if limit > 0 && len(seqs) > limit {
		seqs = seqs[:limit]
	}
	out := make([]*model.UpdateRecord, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, m[s])
	}
	return out, nil
}

func (db *memDB) IsUniqueSeqErr(err error) bool { return errors.Is(err, ErrUniqueSeq) }
func (db *memDB) IsTransientErr(err error) bool { return false } // 内存版无瞬时错误
