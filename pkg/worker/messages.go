package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/cache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/strategy"
)

// MessageType is the type of a control channel message.
type MessageType string

const (
	// MessageSkipWaiting activates the waiting worker now
	MessageSkipWaiting MessageType = "SKIP_WAITING"

	// MessageCacheUpdate force-refreshes one DYNAMIC entry
	MessageCacheUpdate MessageType = "CACHE_UPDATE"
)

// Sync tags delivered by the host's wake trigger.
const (
	SyncCacheSweep    = "cache-sweep"
	SyncAnalyticsSync = "analytics-sync"
)

// ErrInvalidMessage is returned for messages that cannot be decoded.
var ErrInvalidMessage = errors.New("invalid message")

// Message is a command from the controlling page.
type Message struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url,omitempty"`
}

// ParseMessage decodes a JSON message. Unknown types decode fine and are
// ignored when handled.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type == MessageCacheUpdate && msg.URL == "" {
		return Message{}, fmt.Errorf("%w: %s requires url", ErrInvalidMessage, msg.Type)
	}
	return msg, nil
}

// Refresh deletes the DYNAMIC entry for rawURL, fetches it again, and stores
// the response when it is 2xx.
func (w *Worker) Refresh(ctx context.Context, rawURL string) error {
	u, err := w.selector.Resolve(rawURL)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	p, err := w.partition(ctx, w.names.Dynamic)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	key := cache.NewKey(http.MethodGet, u)
	if _, err := p.Delete(ctx, key); err != nil {
		return fmt.Errorf("refresh: deleting %s: %w", key, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	resp, err := w.fetcher.Do(req)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", key, err)
	}
	defer resp.Body.Close()

	if !cache.IsCacheable(resp.StatusCode) {
		return fmt.Errorf("refresh %s: status %d not cached", key, resp.StatusCode)
	}

	entry, err := cache.ResponseToEntry(key, resp, w.now())
	if err != nil {
		return fmt.Errorf("refresh %s: %w", key, err)
	}
	entry.Headers.Del(strategy.HeaderSource)
	if err := p.Put(ctx, key, entry); err != nil {
		return fmt.Errorf("refresh %s: %w", key, err)
	}

	w.logger.Info().Str("key", key.String()).Msg("Entry refreshed")
	return nil
}

// HandleSync runs the work for a host wake trigger. Unknown tags are ignored.
func (w *Worker) HandleSync(ctx context.Context, tag string) error {
	switch tag {
	case SyncCacheSweep:
		Messages.WithLabelValues("sync:" + tag).Inc()
		_, err := w.Sweep(ctx)
		return err
	case SyncAnalyticsSync:
		Messages.WithLabelValues("sync:" + tag).Inc()
		w.logger.Debug().Str("tag", tag).Msg("Analytics sync has no cache work")
		return nil
	default:
		Messages.WithLabelValues("ignored").Inc()
		w.logger.Debug().Str("tag", tag).Msg("Ignoring unknown sync tag")
		return nil
	}
}
