// internal/storage/asset_store.go
package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultAssetBaseURL 资源句柄的默认访问前缀
const DefaultAssetBaseURL = "/api/assets"

// ErrAssetStoreFull 容量已满且所有条目都被运行占用
var ErrAssetStoreFull = errors.New("asset store is full")

// AssetStore 保存生成的二进制资源（如 WAV 音频），并以可寻址的句柄对外提供
type AssetStore struct {
	entries map[string]*AssetEntry
	mutex   sync.RWMutex
	maxSize int    // 最大条目数
	baseURL string // 句柄URL前缀
	clock   uint64 // 访问序号，用于LRU排序
}

// AssetEntry 资源条目
type AssetEntry struct {
	ID        string
	Owner     string // 占用该条目的运行ID，为空表示可被淘汰
	MediaType string
	Data      []byte
	CreatedAt time.Time
	LastRead  time.Time
	lastSeq   uint64
}

// AssetHandle 可播放的资源句柄
type AssetHandle struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	Size      int    `json:"size"`
}

// NewAssetStore 创建资源存储
func NewAssetStore(maxSize int, baseURL string) *AssetStore {
	if maxSize <= 0 {
		maxSize = 256
	}
	if baseURL == "" {
		baseURL = DefaultAssetBaseURL
	}

	return &AssetStore{
		entries: make(map[string]*AssetEntry),
		maxSize: maxSize,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Put 保存一个不属于任何运行的资源，容量不足时可以被淘汰
func (s *AssetStore) Put(data []byte, mediaType string) (AssetHandle, error) {
	return s.PutOwned("", data, mediaType)
}

// PutOwned 保存资源并由 owner 占用。被占用的条目不会被淘汰，
// 只能通过 Release 或 ReleaseOwner 释放
func (s *AssetStore) PutOwned(owner string, data []byte, mediaType string) (AssetHandle, error) {
	id := uuid.NewString()
	now := time.Now()

	s.mutex.Lock()
	// 超出容量时只清理未被占用、最久未读的条目
	if len(s.entries) >= s.maxSize {
		s.cleanupLRU(max(len(s.entries)-s.maxSize+1, s.maxSize/5))
		if len(s.entries) >= s.maxSize {
			s.mutex.Unlock()
			return AssetHandle{}, ErrAssetStoreFull
		}
	}

	s.clock++
	s.entries[id] = &AssetEntry{
		ID:        id,
		Owner:     owner,
		MediaType: mediaType,
		Data:      data,
		CreatedAt: now,
		LastRead:  now,
		lastSeq:   s.clock,
	}
	s.mutex.Unlock()

	return AssetHandle{
		ID:        id,
		URL:       s.baseURL + "/" + id,
		MediaType: mediaType,
		Size:      len(data),
	}, nil
}

// Get 读取资源
func (s *AssetStore) Get(id string) (*AssetEntry, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.entries[id]
	if !exists {
		return nil, false
	}
	s.clock++
	entry.LastRead = time.Now()
	entry.lastSeq = s.clock
	return entry, true
}

// Release 释放资源，返回是否存在
func (s *AssetStore) Release(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.entries[id]; !exists {
		return false
	}
	delete(s.entries, id)
	return true
}

// ReleaseOwner 释放 owner 占用的全部条目，返回释放数量
func (s *AssetStore) ReleaseOwner(owner string) int {
	if owner == "" {
		return 0
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	released := 0
	for id, entry := range s.entries {
		if entry.Owner == owner {
			delete(s.entries, id)
			released++
		}
	}
	return released
}

// ReleaseURL 根据句柄URL释放资源，非本存储的URL会被忽略
func (s *AssetStore) ReleaseURL(url string) bool {
	id, ok := s.IDFromURL(url)
	if !ok {
		return false
	}
	return s.Release(id)
}

// IDFromURL 从句柄URL中解析资源ID
func (s *AssetStore) IDFromURL(url string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(url, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Len 当前条目数
func (s *AssetStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}

// 清理最少使用的未占用条目
func (s *AssetStore) cleanupLRU(count int) {
	type keyAge struct {
		key string
		seq uint64
	}

	entries := make([]keyAge, 0, len(s.entries))
	for k, v := range s.entries {
		if v.Owner != "" {
			continue
		}
		entries = append(entries, keyAge{k, v.lastSeq})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	maxToDelete := min(count, len(entries))
	for i := 0; i < maxToDelete; i++ {
		delete(s.entries, entries[i].key)
	}
}
