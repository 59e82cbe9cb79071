package capabilities

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/hkdf"

	"buildforge/internal/logging"
)

// StatusUpdate is the wire shape published to the status channel and, if
// configured, POSTed to an HTTP webhook — the MCP status sink contract.
type StatusUpdate struct {
	PackageName string    `json:"package_name"`
	Status      string    `json:"status"`
	Phase       string    `json:"phase,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RedisConfig mirrors the env-driven connection config a managed-database
// layer would use for per-tenant Redis instances, trimmed down to the
// single shared connection the status sink needs here.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisConfigFromEnv reads REDIS_URL (preferred) or REDIS_HOST/REDIS_PORT/
// REDIS_PASSWORD/REDIS_DB, defaulting to localhost:6379.
func RedisConfigFromEnv() RedisConfig {
	if url := os.Getenv("REDIS_URL"); url != "" {
		opts, err := redis.ParseURL(url)
		if err == nil {
			return RedisConfig{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
		}
		logging.S().Warnw("malformed REDIS_URL, falling back to host/port env vars", "err", err)
	}
	host := getenvDefault("REDIS_HOST", "localhost")
	port := getenvDefault("REDIS_PORT", "6379")
	db, _ := strconv.Atoi(getenvDefault("REDIS_DB", "0"))
	return RedisConfig{Addr: host + ":" + port, Password: os.Getenv("REDIS_PASSWORD"), DB: db}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// RedisStatusSink publishes status updates to a Redis channel for
// at-least-once, best-effort delivery to any number of subscribers, and
// optionally mirrors each update to an HTTP webhook.
type RedisStatusSink struct {
	client         *redis.Client
	channel        string
	webhookURL     string
	webhookSignKey []byte
	httpClient     *http.Client
}

// NewRedisStatusSink connects to Redis and configures an optional webhook
// mirror. When webhookSecret is non-empty, every webhook delivery carries an
// X-Buildforge-Signature header so the receiver can verify it actually came
// from this orchestrator. The secret itself is never sent or reused
// directly as a MAC key: it's run through HKDF first so a leaked delivery
// signature can't be turned back into the webhook secret.
func NewRedisStatusSink(cfg RedisConfig, channel, webhookURL, webhookSecret string) *RedisStatusSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	sink := &RedisStatusSink{
		client:     client,
		channel:    channel,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	if webhookSecret != "" {
		sink.webhookSignKey = deriveWebhookSignKey(webhookSecret)
	}
	return sink
}

// deriveWebhookSignKey stretches the configured webhook secret into a
// 32-byte HMAC key via HKDF-SHA256, scoped to this one purpose.
func deriveWebhookSignKey(secret string) []byte {
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("buildforge-status-webhook"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		logging.S().Warnw("webhook signing key derivation failed, signing disabled", "err", err)
		return nil
	}
	return key
}

// UpdateStatus is fire-and-forget: publish failures are logged, never
// returned, matching the best-effort contract in §6.1.
func (s *RedisStatusSink) UpdateStatus(ctx context.Context, packageName, status string, errDetails *StatusErrorDetails) {
	update := StatusUpdate{PackageName: packageName, Status: status, Timestamp: time.Now()}
	if errDetails != nil {
		update.Phase = errDetails.Phase
		update.Error = errDetails.Message
	}

	payload, err := json.Marshal(update)
	if err != nil {
		logging.S().Warnw("status sink: failed to marshal update", "package", packageName, "err", err)
		return
	}

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		logging.S().Warnw("status sink: redis publish failed", "package", packageName, "err", err)
	}

	if s.webhookURL != "" {
		go s.postWebhook(payload)
	}
}

func (s *RedisStatusSink) postWebhook(payload []byte) {
	req, err := http.NewRequest(http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.webhookSignKey != nil {
		req.Header.Set("X-Buildforge-Signature", signWebhookPayload(s.webhookSignKey, payload))
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		logging.S().Warnw("status sink: webhook delivery failed", "url", s.webhookURL, "err", err)
		return
	}
	resp.Body.Close()
}

// signWebhookPayload returns the hex-encoded HMAC-SHA256 of payload under key.
func signWebhookPayload(key, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *RedisStatusSink) Close() error {
	return s.client.Close()
}

// Subscribe opens a Redis subscription on the sink's status channel, for
// callers that want to fan updates out somewhere other than the webhook
// (e.g. a WebSocket hub). The caller owns the returned subscription and
// must Close it.
func (s *RedisStatusSink) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.channel)
}

var _ StatusSink = (*RedisStatusSink)(nil)
