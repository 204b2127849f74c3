package notifications

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/thatsimonsguy/tank-controller/internal/env"
)

var ErrNotInitialized = errors.New("notifications not initialized")

var (
	client      *http.Client
	server      string
	topic       string
	breaker     *gobreaker.CircuitBreaker
	initialized bool
)

// Init initializes the notification client
func Init() {
	if env.Cfg.NtfyTopic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return
	}

	client = &http.Client{
		Timeout: 10 * time.Second,
	}
	server = strings.TrimRight(env.Cfg.NtfyServer, "/")
	topic = env.Cfg.NtfyTopic
	breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ntfy",
		Timeout: time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Notification breaker state change")
		},
	})
	initialized = true

	log.Info().
		Str("server", server).
		Str("topic", topic).
		Msg("Ntfy notifications initialized")
}

// Send posts a notification. After repeated failures the breaker opens and
// Send fails fast with gobreaker.ErrOpenState until it half-opens again.
func Send(title, message string) error {
	if !initialized {
		return ErrNotInitialized
	}

	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, post(title, message)
	})
	return err
}

// SendAsync sends without blocking the caller. Failures are logged.
func SendAsync(title, message string) {
	if !initialized {
		return
	}
	go func() {
		if err := Send(title, message); err != nil {
			log.Warn().Err(err).Str("title", title).Msg("Failed to send notification")
		}
	}()
}

func post(title, message string) error {
	payload := map[string]interface{}{
		"topic":   topic,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, server, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}

func reset() {
	client = nil
	server = ""
	topic = ""
	breaker = nil
	initialized = false
}
