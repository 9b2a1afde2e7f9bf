// internal/llm/prompt.go
package llm

import "fmt"

// DefaultSceneCount 每个脚本的场景数
const DefaultSceneCount = 4

// BuildScriptPrompt 构建脚本生成提示词
func BuildScriptPrompt(topic string, sceneCount int) string {
	if sceneCount <= 0 {
		sceneCount = DefaultSceneCount
	}
	return fmt.Sprintf(`Create a visually engaging, educational explainer script about: %q.
The audience is general public. Keep it concise, exciting, and visual.
Create exactly %d distinct scenes.
For 'imagePrompt', describe a high-quality, photorealistic, cinematic 3D render or illustration style image that represents the concept abstractly or concretely.`,
		topic, sceneCount)
}

// ScriptSchema 结构化输出的 JSON schema
func ScriptSchema() map[string]interface{} {
	str := map[string]interface{}{"type": "STRING"}
	return map[string]interface{}{
		"type": "OBJECT",
		"properties": map[string]interface{}{
			"title":   str,
			"summary": str,
			"scenes": map[string]interface{}{
				"type": "ARRAY",
				"items": map[string]interface{}{
					"type": "OBJECT",
					"properties": map[string]interface{}{
						"id":            map[string]interface{}{"type": "INTEGER"},
						"heading":       str,
						"explanation":   str,
						"imagePrompt":   str,
						"voiceoverText": str,
					},
					"required": []string{"id", "heading", "explanation", "imagePrompt", "voiceoverText"},
				},
			},
		},
		"required": []string{"title", "summary", "scenes"},
	}
}
