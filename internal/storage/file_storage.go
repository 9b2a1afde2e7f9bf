// internal/storage/file_storage.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrFileNotFound 文件不存在
var ErrFileNotFound = errors.New("file not found")

// FileStorage 提供数据目录下的文件存储服务
type FileStorage struct {
	BaseDir string

	// 进程内文件级别锁 path -> *sync.RWMutex
	fileLocks sync.Map
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStorage{BaseDir: baseDir}, nil
}

func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// Path 返回数据目录下的完整路径
func (fs *FileStorage) Path(dirPath, filename string) string {
	return filepath.Join(fs.BaseDir, dirPath, filename)
}

// SaveTextFile 原子性写入文件（临时文件 + 重命名）
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) error {
	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	fullPath := filepath.Join(fullDirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("保存文件失败: %w", err)
	}
	return nil
}

// SaveJSONFile 保存JSON文件
func (fs *FileStorage) SaveJSONFile(dirPath, filename string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	return fs.SaveTextFile(dirPath, filename, content)
}

// LoadTextFile 读取文件，文件不存在时返回 ErrFileNotFound
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return content, nil
}

// LoadJSONFile 读取并解析JSON文件
func (fs *FileStorage) LoadJSONFile(dirPath, filename string, v interface{}) error {
	content, err := fs.LoadTextFile(dirPath, filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	return nil
}

// FileExists 检查文件是否存在
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	_, err := os.Stat(filepath.Join(fs.BaseDir, dirPath, filename))
	return err == nil
}

// DeleteFile 删除文件
func (fs *FileStorage) DeleteFile(dirPath, filename string) error {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		return fmt.Errorf("删除文件失败: %w", err)
	}
	return nil
}
