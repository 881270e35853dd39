// Package policycache implements a Redis-backed PolicySource: the active
// Policy snapshot is kept in a Redis key and republished on a pub/sub
// channel when an out-of-scope settings UI pushes an update, letting the
// host pick up policy edits without a restart.
package policycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xnote-app/plugin-runtime/pkg/plugin"
)

// Config describes the Redis connection and key naming for a Source.
type Config struct {
	Address  string
	Password string
	DB       int
	Key      string
	Channel  string
}

// policyDoc is the JSON shape stored under Key, mirroring plugin.Policy's
// fields before normalisation.
type policyDoc struct {
	AllowedCapabilities       []string `json:"allowed_capabilities"`
	MaxFailedActivations      int      `json:"max_failed_activations"`
	ActivationTimeoutMillis   int      `json:"activation_timeout_millis"`
	RuntimeMode               string   `json:"runtime_mode"`
	SessionPingTimeoutMillis  int      `json:"session_ping_timeout_millis"`
	MaxKeepAliveSessions      int      `json:"max_keep_alive_sessions"`
	SessionIdleTTLMillis      int      `json:"session_idle_ttl_millis"`
	SupportedProtocolVersions []uint32 `json:"supported_protocol_versions"`
	KeepAliveSession          bool     `json:"keep_alive_session"`
	CountCancelledAsFailure   bool     `json:"count_cancelled_as_failure"`
}

// Source is a policy source backed by Redis.
type Source struct {
	client  *redis.Client
	key     string
	channel string
}

// NewSource dials Redis and verifies connectivity before returning.
func NewSource(cfg Config) (*Source, error) {
	if cfg.Address == "" {
		return nil, errors.New("policycache: redis address cannot be empty")
	}
	key := cfg.Key
	if key == "" {
		key = "xnote:plugin:policy"
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "xnote:plugin:policy:updates"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("policycache: connect to redis: %w", err)
	}

	return &Source{client: client, key: key, channel: channel}, nil
}

// Current fetches and decodes the policy snapshot currently stored in
// Redis, normalising it before returning.
func (s *Source) Current(ctx context.Context) (plugin.Policy, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return plugin.DefaultPolicy(), nil
	}
	if err != nil {
		return plugin.Policy{}, fmt.Errorf("policycache: read policy: %w", err)
	}

	var doc policyDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return plugin.Policy{}, fmt.Errorf("policycache: decode policy: %w", err)
	}

	policy := plugin.Policy{
		MaxFailedActivations:      doc.MaxFailedActivations,
		ActivationTimeoutMillis:   doc.ActivationTimeoutMillis,
		RuntimeMode:               plugin.RuntimeMode(doc.RuntimeMode),
		SessionPingTimeoutMillis:  doc.SessionPingTimeoutMillis,
		MaxKeepAliveSessions:      doc.MaxKeepAliveSessions,
		SessionIdleTTLMillis:      doc.SessionIdleTTLMillis,
		SupportedProtocolVersions: doc.SupportedProtocolVersions,
		KeepAliveSession:          doc.KeepAliveSession,
		CountCancelledAsFailure:   doc.CountCancelledAsFailure,
	}
	for _, c := range doc.AllowedCapabilities {
		policy.AllowedCapabilities = append(policy.AllowedCapabilities, plugin.Capability(c))
	}
	return policy.Normalize(), nil
}

// Publish writes a new policy snapshot and notifies subscribers on the
// update channel. Used by the out-of-scope settings UI this Source stands
// in for.
func (s *Source) Publish(ctx context.Context, policy plugin.Policy) error {
	doc := policyDoc{
		MaxFailedActivations:      policy.MaxFailedActivations,
		ActivationTimeoutMillis:   policy.ActivationTimeoutMillis,
		RuntimeMode:               string(policy.RuntimeMode),
		SessionPingTimeoutMillis:  policy.SessionPingTimeoutMillis,
		MaxKeepAliveSessions:      policy.MaxKeepAliveSessions,
		SessionIdleTTLMillis:      policy.SessionIdleTTLMillis,
		SupportedProtocolVersions: policy.SupportedProtocolVersions,
		KeepAliveSession:          policy.KeepAliveSession,
		CountCancelledAsFailure:   policy.CountCancelledAsFailure,
	}
	for _, c := range policy.AllowedCapabilities {
		doc.AllowedCapabilities = append(doc.AllowedCapabilities, string(c))
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("policycache: encode policy: %w", err)
	}
	if err := s.client.Set(ctx, s.key, encoded, 0).Err(); err != nil {
		return fmt.Errorf("policycache: write policy: %w", err)
	}
	return s.client.Publish(ctx, s.channel, "updated").Err()
}

// Watch subscribes to the update channel and invokes onUpdate with the
// latest policy every time one is published, until ctx is cancelled.
func (s *Source) Watch(ctx context.Context, onUpdate func(plugin.Policy)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return errors.New("policycache: subscription channel closed")
			}
			policy, err := s.Current(ctx)
			if err != nil {
				continue
			}
			onUpdate(policy)
		}
	}
}

// Close releases the underlying Redis connection.
func (s *Source) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
