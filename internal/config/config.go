// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// 默认模型
const (
	DefaultScriptModel   = "gemini-2.5-flash"
	DefaultImageModel    = "imagen-4.0-generate-001"
	DefaultFallbackModel = "gemini-2.5-flash-image"
	DefaultSpeechModel   = "gemini-2.5-flash-preview-tts"
	DefaultVoice         = "Kore"
)

// ModelConfig 生成后端使用的模型
type ModelConfig struct {
	Script        string `json:"script"`
	Image         string `json:"image"`
	ImageFallback string `json:"image_fallback"`
	Speech        string `json:"speech"`
	Voice         string `json:"voice"`
}

// AppConfig 包含应用程序的所有配置，可持久化到 config.json
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	StaticDir string `json:"static_dir"`
	LogDir    string `json:"log_dir"`
	LogLevel  string `json:"log_level"`
	DebugMode bool   `json:"debug_mode"`

	// 生成后端
	LLMProvider  string            `json:"llm_provider"`
	LLMConfig    map[string]string `json:"llm_config"`
	Models       ModelConfig       `json:"models"`
	ScenesPerRun int               `json:"scenes_per_run"`

	// 播放就绪判定
	ReadyDeadline time.Duration `json:"ready_deadline"`
	PollInterval  time.Duration `json:"poll_interval"`

	// 最近主题存储
	HistoryBackend string `json:"history_backend"` // file | redis
	HistoryLimit   int    `json:"history_limit"`
	RedisAddr      string `json:"redis_addr,omitempty"`
	RedisPassword  string `json:"-"`
	RedisDB        int    `json:"redis_db"`

	// 资源句柄
	MaxAssets int `json:"max_assets"`
}

// Config 存储从环境变量读取的基础配置
type Config struct {
	Port           string
	GeminiAPIKey   string
	GeminiBaseURL  string
	DataDir        string
	StaticDir      string
	LogDir         string
	LogLevel       string
	DebugMode      bool
	HistoryBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ReadyDeadline  time.Duration
	PollInterval   time.Duration
	MaxAssets      int
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:  getEnv("GEMINI_BASE_URL", ""),
		DataDir:        getEnvPath("DATA_DIR", "data"),
		StaticDir:      getEnv("STATIC_DIR", "static"),
		LogDir:         getEnvPath("LOG_DIR", "logs"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DebugMode:      getEnvBool("DEBUG_MODE", true),
		HistoryBackend: getEnv("HISTORY_BACKEND", "file"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		ReadyDeadline:  time.Duration(getEnvInt("READY_DEADLINE_SECONDS", 15)) * time.Second,
		PollInterval:   time.Duration(getEnvInt("POLL_INTERVAL_MS", 500)) * time.Millisecond,
		MaxAssets:      getEnvInt("MAX_ASSETS", 256),
	}

	if config.HistoryBackend != "file" && config.HistoryBackend != "redis" {
		return nil, fmt.Errorf("不支持的 HISTORY_BACKEND: %s", config.HistoryBackend)
	}

	// 只记录警告，不返回错误
	if config.GeminiAPIKey == "" {
		log.Println("警告: 未设置 GEMINI_API_KEY，生成接口将不可用")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，并确保目录存在
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量，非法值回退到默认值
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		log.Printf("警告: 环境变量 %s=%q 不是合法整数，使用默认值 %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// fromBase 由基础配置构造默认的 AppConfig
func fromBase(base *Config) *AppConfig {
	llmConfig := map[string]string{
		"api_key": base.GeminiAPIKey,
	}
	if base.GeminiBaseURL != "" {
		llmConfig["base_url"] = base.GeminiBaseURL
	}

	return &AppConfig{
		Port:        base.Port,
		DataDir:     base.DataDir,
		StaticDir:   base.StaticDir,
		LogDir:      base.LogDir,
		LogLevel:    base.LogLevel,
		DebugMode:   base.DebugMode,
		LLMProvider: "google",
		LLMConfig:   llmConfig,
		Models: ModelConfig{
			Script:        DefaultScriptModel,
			Image:         DefaultImageModel,
			ImageFallback: DefaultFallbackModel,
			Speech:        DefaultSpeechModel,
			Voice:         DefaultVoice,
		},
		ScenesPerRun:   4,
		ReadyDeadline:  base.ReadyDeadline,
		PollInterval:   base.PollInterval,
		HistoryBackend: base.HistoryBackend,
		HistoryLimit:   8,
		RedisAddr:      base.RedisAddr,
		RedisPassword:  base.RedisPassword,
		RedisDB:        base.RedisDB,
		MaxAssets:      base.MaxAssets,
	}
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = fromBase(baseConfig)

	// 尝试从文件加载已保存的配置，只保留模型相关的设置
	if data, err := os.ReadFile(configFile); err == nil {
		var saved AppConfig
		if json.Unmarshal(data, &saved) == nil {
			mergeSaved(currentConfig, &saved)
		} else {
			log.Printf("警告: 解析配置文件失败，使用默认配置: %s", configFile)
		}
	}

	return saveConfigLocked()
}

// mergeSaved 合并配置文件中的生成相关设置，环境变量中的密钥优先
func mergeSaved(dst, saved *AppConfig) {
	if saved.LLMProvider != "" {
		dst.LLMProvider = saved.LLMProvider
	}
	for k, v := range saved.LLMConfig {
		if k == "api_key" && dst.LLMConfig["api_key"] != "" {
			continue
		}
		dst.LLMConfig[k] = v
	}
	if saved.Models.Script != "" {
		dst.Models.Script = saved.Models.Script
	}
	if saved.Models.Image != "" {
		dst.Models.Image = saved.Models.Image
	}
	if saved.Models.ImageFallback != "" {
		dst.Models.ImageFallback = saved.Models.ImageFallback
	}
	if saved.Models.Speech != "" {
		dst.Models.Speech = saved.Models.Speech
	}
	if saved.Models.Voice != "" {
		dst.Models.Voice = saved.Models.Voice
	}
	if saved.ScenesPerRun > 0 {
		dst.ScenesPerRun = saved.ScenesPerRun
	}
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, err := Load()
		if err != nil {
			baseConfig = &Config{Port: "8080", DataDir: "data", LogDir: "logs", HistoryBackend: "file",
				ReadyDeadline: 15 * time.Second, PollInterval: 500 * time.Millisecond}
		}
		return fromBase(baseConfig)
	}

	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateModels 更新模型配置并保存
func UpdateModels(models ModelConfig) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	mergeSaved(currentConfig, &AppConfig{Models: models})
	return saveConfigLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveConfigLocked()
}

func saveConfigLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	// 密钥不写入磁盘
	persisted := *currentConfig
	persisted.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		if k == "api_key" {
			continue
		}
		persisted.LLMConfig[k] = v
	}

	data, err := json.MarshalIndent(&persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
