/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailtmpl/mailtmpl/pkg/config"
)

const (
	// queueStopTimeout is the maximum time to wait for the queue to stop during reload
	queueStopTimeout = 30 * time.Second
)

// Service manages the sender and mail queue lifecycle and supports
// hot-reload when the mail configuration changes.
type Service struct {
	cfg    config.Config
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	sender Sender
	queue  *Queue
}

// NewService creates a new mail Service.
func NewService(cfg config.Config, logger *zap.SugaredLogger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger.Named("mail-service"),
	}
}

// Start initializes the mail service by building the sender and queue from
// the current configuration.
func (s *Service) Start(ctx context.Context) error {
	return s.Reload(ctx, s.cfg)
}

// Reload rebuilds the sender and queue from a new configuration, stopping
// any running queue first.
func (s *Service) Reload(ctx context.Context, cfg config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue != nil {
		s.logger.Info("Stopping existing mail queue for reload")
		stopCtx, cancel := context.WithTimeout(ctx, queueStopTimeout)
		defer cancel()
		if err := s.queue.Stop(stopCtx); err != nil {
			s.logger.Warnw("Error stopping mail queue during reload", "error", err)
		}
		s.queue = nil
	}

	if cfg.Mail.Host == "" {
		s.logger.Warn("No SMTP host configured - mail sending disabled")
		return fmt.Errorf("no SMTP host configured")
	}

	s.logger.Infow("Loading mail configuration",
		"host", cfg.Mail.Host,
		"port", cfg.Mail.Port)

	s.cfg = cfg
	s.sender = NewSender(cfg, s.logger)
	s.queue = NewQueue(s.sender, s.logger, cfg.Mail.RetryCount, cfg.Mail.RetryBackoffMs, cfg.Mail.QueueSize)
	s.queue.Start()

	s.logger.Infow("Mail queue initialized and started",
		"retryCount", cfg.Mail.RetryCount,
		"retryBackoffMs", cfg.Mail.RetryBackoffMs,
		"queueSize", cfg.Mail.QueueSize)

	return nil
}

// Enqueue adds a message to the mail queue and returns its queue ID.
// If the queue is not initialized, the message is dropped with an error.
func (s *Service) Enqueue(msg *Message) (string, error) {
	s.mu.RLock()
	queue := s.queue
	s.mu.RUnlock()

	if queue == nil {
		s.logger.Warnw("Mail queue not initialized, dropping message",
			"template", msg.TemplateName)
		return "", fmt.Errorf("mail queue not initialized")
	}

	return queue.Enqueue(msg)
}

// Sender returns the current sender, or nil when the service is not started.
func (s *Service) Sender() Sender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sender
}

// IsEnabled returns whether the mail service has an active queue.
func (s *Service) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue != nil
}

// Stop gracefully shuts down the mail service.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue != nil {
		s.logger.Info("Stopping mail service")
		err := s.queue.Stop(ctx)
		s.queue = nil
		return err
	}
	return nil
}
