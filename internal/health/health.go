// Package health talks to the services that consume the canonical store.
// The engine treats them as black boxes: a health probe and a
// restart/reconnect trigger, both bounded by a timeout.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"canonical_cutover/internal/config"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Status is the dependent's self-reported condition.
type Status struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Checker probes dependent services after a cutover.
type Checker struct {
	client  *http.Client
	timeout time.Duration
	logger  Logger
}

func NewChecker(timeout time.Duration, logger Logger) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

// Restart asks a dependent to reconnect to the rebuilt store. A missing
// restart URL means the dependent picks up changes on its own.
func (c *Checker) Restart(ctx context.Context, dep config.DependentConfig) error {
	if dep.RestartURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dep.RestartURL, nil)
	if err != nil {
		return fmt.Errorf("restart %s: %w", dep.Name, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("restart %s: %w", dep.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("restart %s: unexpected status %d", dep.Name, resp.StatusCode)
	}
	return nil
}

// Check probes a dependent's health endpoint.
func (c *Checker) Check(ctx context.Context, dep config.DependentConfig) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dep.HealthURL, nil)
	if err != nil {
		return Status{}, fmt.Errorf("health check %s: %w", dep.Name, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("health check %s: %w", dep.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{Status: StatusDegraded, Detail: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("health check %s: decode response: %w", dep.Name, err)
	}
	return status, nil
}

// RecoverAll restarts and re-checks every dependent, returning the names of
// those that did not come back healthy.
func (c *Checker) RecoverAll(ctx context.Context, deps []config.DependentConfig) []string {
	var degraded []string
	for _, dep := range deps {
		if err := c.Restart(ctx, dep); err != nil {
			c.logger.Error("dependent restart failed", "dependent", dep.Name, "error", err)
			degraded = append(degraded, dep.Name)
			continue
		}
		status, err := c.Check(ctx, dep)
		if err != nil {
			c.logger.Error("dependent health check failed", "dependent", dep.Name, "error", err)
			degraded = append(degraded, dep.Name)
			continue
		}
		if status.Status != StatusHealthy {
			c.logger.Error("dependent unhealthy after cutover", "dependent", dep.Name, "status", status.Status, "detail", status.Detail)
			degraded = append(degraded, dep.Name)
			continue
		}
		c.logger.Info("dependent recovered", "dependent", dep.Name)
	}
	return degraded
}
