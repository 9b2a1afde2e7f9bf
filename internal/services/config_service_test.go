package services

import (
	"errors"
	"testing"
	"time"

	"github.com/Corphon/Lumina/internal/config"
	apperrors "github.com/Corphon/Lumina/internal/errors"
)

type recordingSubscriber struct {
	calls []string
}

func (r *recordingSubscriber) OnConfigChanged(oldConfig, newConfig *config.AppConfig) {
	r.calls = append(r.calls, oldConfig.Models.Voice+"->"+newConfig.Models.Voice)
}

func newTestConfigService() *ConfigService {
	current := &config.AppConfig{
		LLMProvider:   "google",
		LLMConfig:     map[string]string{"api_key": "secret"},
		Models:        config.ModelConfig{Script: config.DefaultScriptModel, Voice: config.DefaultVoice},
		ScenesPerRun:  4,
		ReadyDeadline: 15 * time.Second,
		HistoryLimit:  8,
	}

	svc := NewConfigService()
	svc.load = func() *config.AppConfig {
		copied := *current
		return &copied
	}
	svc.update = func(m config.ModelConfig) error {
		if m.Voice == "broken" {
			return errors.New("disk full")
		}
		if m.Voice != "" {
			current.Models.Voice = m.Voice
		}
		if m.Script != "" {
			current.Models.Script = m.Script
		}
		return nil
	}
	return svc
}

func TestConfigSettingsRedactsKey(t *testing.T) {
	settings := newTestConfigService().Settings()
	if !settings.APIKeyConfigured || settings.Provider != "google" || settings.ReadyDeadline != "15s" {
		t.Fatalf("unexpected settings %+v", settings)
	}
}

func TestConfigUpdateModelsNotifiesSubscribers(t *testing.T) {
	svc := newTestConfigService()
	sub := &recordingSubscriber{}
	svc.SubscribeToChanges(sub)

	settings, err := svc.UpdateModels(config.ModelConfig{Voice: " Puck "}, "tester")
	if err != nil {
		t.Fatalf("UpdateModels: %v", err)
	}
	if settings.Models.Voice != "Puck" || settings.Models.Script != config.DefaultScriptModel {
		t.Fatalf("unexpected models %+v", settings.Models)
	}
	if len(sub.calls) != 1 || sub.calls[0] != "Kore->Puck" {
		t.Fatalf("subscriber calls = %v", sub.calls)
	}

	history := svc.GetChangeHistory(0)
	if len(history) != 1 || history[0].ChangedBy != "tester" || history[0].NewValue.Voice != "Puck" {
		t.Fatalf("history = %+v", history)
	}
}

func TestConfigUpdateModelsErrors(t *testing.T) {
	svc := newTestConfigService()
	sub := &recordingSubscriber{}
	svc.SubscribeToChanges(sub)

	if _, err := svc.UpdateModels(config.ModelConfig{Voice: "  "}, "tester"); !apperrors.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.UpdateModels(config.ModelConfig{Voice: "broken"}, "tester"); err == nil {
		t.Fatal("expected save failure")
	}
	if len(sub.calls) != 0 || len(svc.GetChangeHistory(10)) != 0 {
		t.Fatal("failed updates must not notify or record")
	}
}
