package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDephealthService_NoTargets(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_, err := NewDephealthServiceWithRegisterer(
		"test-sd-01", "selfdestruct", DephealthTargets{}, time.Second, logger, prometheus.NewRegistry(),
	)
	if !errors.Is(err, ErrNoDependencies) {
		t.Errorf("ожидалась ErrNoDependencies, получено %v", err)
	}
}

func TestDephealthService_S3StartStop(t *testing.T) {
	// Mock S3-совместимого хранилища с health endpoint MinIO
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/minio/health/live" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer mockServer.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ds, err := NewDephealthServiceWithRegisterer(
		"test-sd-02",
		"selfdestruct",
		DephealthTargets{S3Endpoint: mockServer.URL, S3HealthPath: "/minio/health/live"},
		1*time.Second,
		logger,
		prometheus.NewRegistry(),
	)
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ds.Start(ctx); err != nil {
		t.Fatalf("Ошибка запуска: %v", err)
	}

	// Даём время на первую проверку (интервал 1s + запас)
	time.Sleep(3 * time.Second)

	health := ds.Health()
	found := false
	for key, val := range health {
		if strings.HasPrefix(key, "s3:") {
			found = true
			if !val {
				t.Errorf("s3 health = false для ключа %q, ожидалось true", key)
			}
		}
	}
	if !found {
		t.Errorf("Нет записи для s3 в Health(), health=%v", health)
	}

	ds.Stop()
}
