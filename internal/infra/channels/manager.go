package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	inboundDedupCacheSize = 2048
	inboundDedupTTL       = 10 * time.Minute
)

var _ ports.ChannelManager = (*Manager)(nil)

// Manager owns the registered channels. Only channels that started cleanly
// are active and receive dispatches.
type Manager struct {
	mu        sync.RWMutex
	channels  map[string]Channel
	active    map[string]bool
	onInbound ports.InboundHandler
	logger    logging.Logger

	dedupMu    sync.Mutex
	dedupCache *lru.Cache[string, time.Time]
	now        func() time.Time
}

// NewManager constructs an empty manager.
func NewManager(logger logging.Logger) *Manager {
	cache, _ := lru.New[string, time.Time](inboundDedupCacheSize)
	return &Manager{
		channels:   make(map[string]Channel),
		active:     make(map[string]bool),
		logger:     logging.OrNop(logger),
		dedupCache: cache,
		now:        time.Now,
	}
}

// Register adds an adapter before InitializeAll.
func (m *Manager) Register(ch Channel) error {
	if ch == nil {
		return fmt.Errorf("channel is nil")
	}
	channelID := strings.TrimSpace(ch.ID())
	if channelID == "" {
		return fmt.Errorf("channel id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[channelID]; exists {
		return fmt.Errorf("channel %q already registered", channelID)
	}
	m.channels[channelID] = ch
	return nil
}

// InitializeAll starts every registered channel. A channel that fails to
// start stays inactive; the others keep running and the failures are joined.
func (m *Manager) InitializeAll(ctx context.Context, onInbound ports.InboundHandler) error {
	m.mu.Lock()
	m.onInbound = onInbound
	pending := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		pending = append(pending, ch)
	}
	m.mu.Unlock()

	var errs []error
	for _, ch := range pending {
		if err := ch.Start(ctx, onInbound); err != nil {
			m.logger.Warn("Channel %s failed to start: %v", ch.ID(), err)
			errs = append(errs, fmt.Errorf("start channel %s: %w", ch.ID(), err))
			continue
		}
		m.mu.Lock()
		m.active[ch.ID()] = true
		m.mu.Unlock()
		m.logger.Info("Channel %s started", ch.ID())
	}
	return errors.Join(errs...)
}

// DispatchEvent implements ports.ChannelDispatcher.
func (m *Manager) DispatchEvent(ctx context.Context, channelID string, ev event.Event, sc ports.SessionContext) error {
	ch, err := m.lookup(channelID)
	if err != nil {
		return err
	}
	return ch.Deliver(ctx, ev, sc)
}

// ActiveChannelIDs returns the started channels, sorted.
func (m *Manager) ActiveChannelIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for channelID := range m.active {
		ids = append(ids, channelID)
	}
	sort.Strings(ids)
	return ids
}

// BroadcastToChannel sends text to the channel's default recipient.
func (m *Manager) BroadcastToChannel(ctx context.Context, channelID, text string) error {
	ch, err := m.lookup(channelID)
	if err != nil {
		return err
	}
	return ch.Send(ctx, "", text)
}

// Verify authenticates a pushed payload when the channel requires it.
func (m *Manager) Verify(channelID string, body []byte, signature string) error {
	ch, err := m.lookup(channelID)
	if err != nil {
		return err
	}
	if verifier, ok := ch.(InboundVerifier); ok {
		return verifier.VerifyInbound(body, signature)
	}
	return nil
}

// Inbound routes a pushed message to the handler given to InitializeAll.
// Messages repeating a recently seen messageID are skipped.
func (m *Manager) Inbound(ctx context.Context, channelID, messageID string, msg ports.InboundMessage) error {
	if _, err := m.lookup(channelID); err != nil {
		return err
	}
	m.mu.RLock()
	handler := m.onInbound
	m.mu.RUnlock()
	if handler == nil {
		return fmt.Errorf("channels not initialized")
	}
	if m.isDuplicateMessage(channelID, messageID) {
		m.logger.Debug("Duplicate inbound message skipped: %s/%s", channelID, messageID)
		return nil
	}
	msg.ChannelID = channelID
	return handler(ctx, msg)
}

// StopAll stops every channel.
func (m *Manager) StopAll() {
	m.mu.Lock()
	chans := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.active = make(map[string]bool)
	m.mu.Unlock()
	for _, ch := range chans {
		ch.Stop()
	}
}

func (m *Manager) lookup(channelID string) (Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[channelID]
	if !ok || !m.active[channelID] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	return ch, nil
}

func (m *Manager) isDuplicateMessage(channelID, messageID string) bool {
	if messageID == "" {
		return false
	}
	key := channelID + "/" + messageID
	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()

	now := m.now()
	if ts, ok := m.dedupCache.Get(key); ok {
		if now.Sub(ts) <= inboundDedupTTL {
			return true
		}
		m.dedupCache.Remove(key)
	}
	m.dedupCache.Add(key, now)
	return false
}
