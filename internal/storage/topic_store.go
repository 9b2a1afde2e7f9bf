// internal/storage/topic_store.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"
)

// HistoryKey 最近主题列表的存储槽位名
const HistoryKey = "lumina_history"

const historyDir = "history"

// TopicStore 最近主题列表的持久化后端。Update 在后端锁内完成读-改-写
type TopicStore interface {
	Load(ctx context.Context) ([]string, error)
	Update(ctx context.Context, fn func([]string) []string) ([]string, error)
	Close() error
}

// FileTopicStore 以 JSON 数组保存在数据目录中，跨进程通过文件锁互斥
type FileTopicStore struct {
	files    *FileStorage
	filename string
	lock     *flock.Flock
}

// NewFileTopicStore 创建文件后端
func NewFileTopicStore(files *FileStorage) (*FileTopicStore, error) {
	if files == nil {
		return nil, errors.New("file storage is required")
	}
	filename := HistoryKey + ".json"
	lockPath := files.Path(historyDir, filename+".lock")
	if err := os.MkdirAll(files.Path(historyDir, ""), 0755); err != nil {
		return nil, fmt.Errorf("创建历史目录失败: %w", err)
	}
	return &FileTopicStore{
		files:    files,
		filename: filename,
		lock:     flock.New(lockPath),
	}, nil
}

// Load 读取列表，文件不存在或损坏时返回空列表
func (s *FileTopicStore) Load(ctx context.Context) ([]string, error) {
	ok, err := s.lock.TryRLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire history lock: %w", err)
	}
	if !ok {
		return nil, errors.New("history lock unavailable")
	}
	defer s.lock.Unlock()

	return s.read(), nil
}

// Update 在文件锁内读取、变换并写回列表
func (s *FileTopicStore) Update(ctx context.Context, fn func([]string) []string) ([]string, error) {
	ok, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire history lock: %w", err)
	}
	if !ok {
		return nil, errors.New("history lock unavailable")
	}
	defer s.lock.Unlock()

	next := fn(s.read())
	if next == nil {
		next = []string{}
	}
	if err := s.files.SaveJSONFile(historyDir, s.filename, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *FileTopicStore) read() []string {
	var topics []string
	if err := s.files.LoadJSONFile(historyDir, s.filename, &topics); err != nil {
		return []string{}
	}
	if topics == nil {
		topics = []string{}
	}
	return topics
}

// Close 释放文件锁句柄
func (s *FileTopicStore) Close() error {
	return s.lock.Close()
}

// RedisConfig redis 后端连接参数
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisTopicStore 以 JSON 数组保存在单个 redis 键中，通过 WATCH 事务保证读-改-写原子性
type RedisTopicStore struct {
	client *redis.Client
	key    string
}

// NewRedisTopicStore 创建 redis 后端并验证连接
func NewRedisTopicStore(cfg RedisConfig) (*RedisTopicStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Key == "" {
		cfg.Key = HistoryKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisTopicStore{client: client, key: cfg.Key}, nil
}

// Load 读取列表，键不存在或值损坏时返回空列表
func (s *RedisTopicStore) Load(ctx context.Context) ([]string, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return decodeTopics(raw), nil
}

// Update 乐观事务：WATCH 键，冲突时重试
func (s *RedisTopicStore) Update(ctx context.Context, fn func([]string) []string) ([]string, error) {
	const maxRetries = 5
	var next []string

	txf := func(tx *redis.Tx) error {
		current := []string{}
		raw, err := tx.Get(ctx, s.key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			current = decodeTopics(raw)
		}

		next = fn(current)
		if next == nil {
			next = []string{}
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, payload, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("redis update %s: %w", s.key, err)
	}
	return nil, fmt.Errorf("redis update %s: too many concurrent writers", s.key)
}

// Close 关闭 redis 连接
func (s *RedisTopicStore) Close() error {
	return s.client.Close()
}

func decodeTopics(raw []byte) []string {
	var topics []string
	if err := json.Unmarshal(raw, &topics); err != nil || topics == nil {
		return []string{}
	}
	return topics
}
