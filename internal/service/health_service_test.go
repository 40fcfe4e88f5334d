package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cyborg-chat-be/internal/dto"
	"cyborg-chat-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (f fakePinger) PingContext(context.Context) error {
	return f.err
}

func TestHealthCheck(t *testing.T) {
	tags := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:latest"},{"name":"nomic-embed-text"}]}`))
	}))
	defer tags.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	tests := []struct {
		name       string
		ollamaURL  string
		dbErr      error
		wantStatus string
		wantOllama string
		wantDB     string
	}{
		{"all healthy", tags.URL, nil, dto.HealthOK, dto.HealthOK, dto.HealthOK},
		{"ollama error status", broken.URL, nil, dto.HealthDegraded, dto.HealthError, dto.HealthOK},
		{"ollama unreachable", "http://127.0.0.1:1", nil, dto.HealthDegraded, dto.HealthError, dto.HealthOK},
		{"database down", tags.URL, errors.New("refused"), dto.HealthDegraded, dto.HealthOK, dto.HealthError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewHealthService(tt.ollamaURL, fakePinger{err: tt.dbErr}, 2*time.Second, logger.NewNopLogger())

			resp := svc.Check(context.Background())
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, dto.HealthOK, resp.Checks["api"].Status)
			assert.Equal(t, tt.wantOllama, resp.Checks["ollama"].Status)
			assert.Equal(t, tt.wantDB, resp.Checks["database"].Status)
		})
	}

	resp := NewHealthService(tags.URL, fakePinger{}, 0, logger.NewNopLogger()).Check(context.Background())
	require.Contains(t, resp.Checks, "ollama")
	assert.Equal(t, []string{"llama3.2:latest", "nomic-embed-text"}, resp.Checks["ollama"].Models)
}
