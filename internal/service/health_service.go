package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cyborg-chat-be/internal/dto"
	"cyborg-chat-be/internal/pkg/logger"
)

const defaultHealthTimeout = 5 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type IHealthService interface {
	Check(ctx context.Context) *dto.HealthResponse
}

type healthService struct {
	ollamaURL string
	database  Pinger
	client    *http.Client
	timeout   time.Duration
	logger    logger.ILogger
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func NewHealthService(ollamaURL string, database Pinger, timeout time.Duration, log logger.ILogger) IHealthService {
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	return &healthService{
		ollamaURL: strings.TrimRight(ollamaURL, "/"),
		database:  database,
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		logger:    log,
	}
}

// Check reports ok only when every dependency answers in time.
func (s *healthService) Check(ctx context.Context) *dto.HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	checks := map[string]dto.HealthCheck{
		"api":      {Status: dto.HealthOK},
		"ollama":   s.checkOllama(ctx),
		"database": s.checkDatabase(ctx),
	}

	status := dto.HealthOK
	for name, check := range checks {
		if check.Status != dto.HealthOK {
			status = dto.HealthDegraded
			s.logger.Warn("Health", "Dependency unhealthy", map[string]interface{}{
				"check":   name,
				"message": check.Message,
			})
		}
	}
	return &dto.HealthResponse{Status: status, Checks: checks}
}

func (s *healthService) checkOllama(ctx context.Context) dto.HealthCheck {
	if s.ollamaURL == "" {
		return dto.HealthCheck{Status: dto.HealthError, Message: "ollama url not configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ollamaURL+"/api/tags", nil)
	if err != nil {
		return dto.HealthCheck{Status: dto.HealthError, Message: err.Error()}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return dto.HealthCheck{Status: dto.HealthError, Message: "ollama unreachable"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dto.HealthCheck{Status: dto.HealthError, Message: fmt.Sprintf("ollama returned status %d", resp.StatusCode)}
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return dto.HealthCheck{Status: dto.HealthError, Message: "invalid ollama response"}
	}

	models := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		models[i] = m.Name
	}
	return dto.HealthCheck{Status: dto.HealthOK, Models: models}
}

func (s *healthService) checkDatabase(ctx context.Context) dto.HealthCheck {
	if s.database == nil {
		return dto.HealthCheck{Status: dto.HealthError, Message: "database not configured"}
	}
	if err := s.database.PingContext(ctx); err != nil {
		return dto.HealthCheck{Status: dto.HealthError, Message: "database unreachable"}
	}
	return dto.HealthCheck{Status: dto.HealthOK}
}
