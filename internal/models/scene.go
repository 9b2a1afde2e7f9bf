// internal/models/scene.go
package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAssetAlreadySet 资源句柄只允许填充一次
	ErrAssetAlreadySet = errors.New("scene asset already populated")
	// ErrEmptyAssetURL 不允许用空句柄填充
	ErrEmptyAssetURL = errors.New("asset url is empty")
)

// AssetKind 场景资源类型
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetAudio AssetKind = "audio"
)

// Scene 表示讲解脚本中的一个场景
type Scene struct {
	ID            int    `json:"id"`
	Heading       string `json:"heading"`
	Explanation   string `json:"explanation"`
	ImagePrompt   string `json:"imagePrompt"`
	VoiceoverText string `json:"voiceoverText"`
	ImageURL      string `json:"imageUrl,omitempty"` // 生成后填充
	AudioURL      string `json:"audioUrl,omitempty"` // 生成后填充
}

// AssetURL 返回指定类型的资源句柄
func (s *Scene) AssetURL(kind AssetKind) string {
	switch kind {
	case AssetImage:
		return s.ImageURL
	case AssetAudio:
		return s.AudioURL
	default:
		return ""
	}
}

// AttachAsset 填充资源句柄。句柄从空到非空单调变化，一旦设置不可覆盖。
func (s *Scene) AttachAsset(kind AssetKind, url string) error {
	if url == "" {
		return ErrEmptyAssetURL
	}

	var slot *string
	switch kind {
	case AssetImage:
		slot = &s.ImageURL
	case AssetAudio:
		slot = &s.AudioURL
	default:
		return fmt.Errorf("unknown asset kind %q", kind)
	}

	if *slot != "" {
		return ErrAssetAlreadySet
	}
	*slot = url
	return nil
}

// HasAllAssets 图像和音频是否都已就绪
func (s *Scene) HasAllAssets() bool {
	return s.ImageURL != "" && s.AudioURL != ""
}

// ExplainerScript 生成的讲解脚本，场景顺序即播放顺序
type ExplainerScript struct {
	Title   string  `json:"title"`
	Summary string  `json:"summary"`
	Scenes  []Scene `json:"scenes"`
}

// Validate 检查脚本结构是否完整
func (s *ExplainerScript) Validate() error {
	if s == nil {
		return errors.New("script is nil")
	}
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("script title is empty")
	}
	if len(s.Scenes) == 0 {
		return errors.New("script has no scenes")
	}

	seen := make(map[int]bool, len(s.Scenes))
	for i, scene := range s.Scenes {
		if seen[scene.ID] {
			return fmt.Errorf("scene %d: duplicate id %d", i+1, scene.ID)
		}
		seen[scene.ID] = true

		fields := map[string]string{
			"heading":       scene.Heading,
			"explanation":   scene.Explanation,
			"imagePrompt":   scene.ImagePrompt,
			"voiceoverText": scene.VoiceoverText,
		}
		for name, value := range fields {
			if strings.TrimSpace(value) == "" {
				return fmt.Errorf("scene %d: %s is empty", i+1, name)
			}
		}
	}
	return nil
}

// Clone 返回脚本的深拷贝，用于只读快照
func (s *ExplainerScript) Clone() *ExplainerScript {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Scenes = make([]Scene, len(s.Scenes))
	copy(clone.Scenes, s.Scenes)
	return &clone
}

// StripAssets 清空所有资源句柄，返回一份只含文本的新脚本
func (s *ExplainerScript) StripAssets() *ExplainerScript {
	clone := s.Clone()
	if clone == nil {
		return nil
	}
	for i := range clone.Scenes {
		clone.Scenes[i].ImageURL = ""
		clone.Scenes[i].AudioURL = ""
	}
	return clone
}
