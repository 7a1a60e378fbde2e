package logger

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"quiz-schedule-service/internal/config"
)

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != zap.DebugLevel {
		t.Fatalf("expected debug level")
	}
	if ParseLevel("warning") != zap.WarnLevel {
		t.Fatalf("expected warn level")
	}
	if ParseLevel("") != zap.InfoLevel {
		t.Fatalf("expected info fallback")
	}
}

func TestNewWithFileCore(t *testing.T) {
	cfg := config.Config{}
	cfg.Log.Level = "debug"
	cfg.Log.File = filepath.Join(t.TempDir(), "quiz.log")

	log := New(cfg)
	if !log.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug enabled")
	}
	log.Info("hello")
	_ = log.Sync()
}
