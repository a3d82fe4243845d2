package daemon

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/config"
	id "github.com/desduvauchelle/tamias-sub001/internal/shared/utils/id"
	"github.com/stretchr/testify/require"
)

func testCatalog(defaults []string, conns map[string][]string) *config.Config {
	cfg := &config.Config{Connections: map[string]config.ConnectionConfig{}, DefaultModels: defaults}
	for connID, models := range conns {
		cfg.Connections[connID] = config.ConnectionConfig{Provider: "mock", Models: models}
	}
	return cfg
}

type recordedCall struct {
	SessionID string
	Ref       string
	Request   ports.ChatRequest
}

// scriptedFactory hands out clients whose responses come from respond.
type scriptedFactory struct {
	mu           sync.Mutex
	constructErr map[string]error
	callErr      map[string]error
	midErr       map[string]error
	respond      func(sessionID string, req ports.ChatRequest) []ports.StreamDelta
	beforeEOF    func(sessionID string)
	failSession  func(sessionID string) error
	delay        time.Duration

	calls     []recordedCall
	active    map[string]int
	maxActive int
}

func newScriptedFactory() *scriptedFactory {
	return &scriptedFactory{
		constructErr: map[string]error{},
		callErr:      map[string]error{},
		midErr:       map[string]error{},
		active:       map[string]int{},
	}
}

func (f *scriptedFactory) NewClient(_ context.Context, conn config.Connection, model string) (ports.ChatClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.constructErr[conn.ID]; ok {
		return nil, err
	}
	return &scriptedClient{factory: f, ref: conn.ID + "/" + model}, nil
}

func (f *scriptedFactory) callsFor(sessionID string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out
}

func (f *scriptedFactory) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

type scriptedClient struct {
	factory *scriptedFactory
	ref     string
}

func (c *scriptedClient) Stream(ctx context.Context, req ports.ChatRequest) (ports.ChatStream, error) {
	f := c.factory
	sessionID := id.SessionIDFromContext(ctx)
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{SessionID: sessionID, Ref: c.ref, Request: req})
	if err, ok := f.callErr[c.ref]; ok {
		f.mu.Unlock()
		return nil, err
	}
	if f.failSession != nil {
		if err := f.failSession(sessionID); err != nil {
			f.mu.Unlock()
			return nil, err
		}
	}
	respond := f.respond
	midErr := f.midErr[c.ref]
	f.active[sessionID]++
	if f.active[sessionID] > f.maxActive {
		f.maxActive = f.active[sessionID]
	}
	f.mu.Unlock()

	var deltas []ports.StreamDelta
	if respond != nil {
		deltas = respond(sessionID, req)
	} else {
		deltas = []ports.StreamDelta{{Text: "reply to: " + lastUserText(req)}}
	}
	return &scriptedStream{client: c, sessionID: sessionID, deltas: deltas, midErr: midErr}, nil
}

type scriptedStream struct {
	client    *scriptedClient
	sessionID string
	deltas    []ports.StreamDelta
	midErr    error
	closed    bool
}

func (s *scriptedStream) Recv() (ports.StreamDelta, error) {
	f := s.client.factory
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if len(s.deltas) == 0 {
		if s.midErr != nil {
			return ports.StreamDelta{}, s.midErr
		}
		if f.beforeEOF != nil {
			f.beforeEOF(s.sessionID)
		}
		return ports.StreamDelta{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *scriptedStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	f := s.client.factory
	f.mu.Lock()
	f.active[s.sessionID]--
	f.mu.Unlock()
	return nil
}

func lastUserText(req ports.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == session.RoleUser {
			return req.Messages[i].Content.PlainText()
		}
	}
	return ""
}

type dispatched struct {
	ChannelID string
	Event     event.Event
	Context   ports.SessionContext
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatched
}

func (d *recordingDispatcher) DispatchEvent(_ context.Context, channelID string, ev event.Event, sc ports.SessionContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatched{ChannelID: channelID, Event: ev, Context: sc})
	return nil
}

func (d *recordingDispatcher) all() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatched(nil), d.events...)
}

func (d *recordingDispatcher) statuses(sessionID string) []event.SubagentStatus {
	var out []event.SubagentStatus
	for _, rec := range d.all() {
		if st, ok := rec.Event.(event.SubagentStatus); ok && st.SubagentID == sessionID {
			out = append(out, st)
		}
	}
	return out
}

type recordingUsage struct {
	mu      sync.Mutex
	records []ports.UsageRecord
}

func (u *recordingUsage) Log(rec ports.UsageRecord) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, rec)
}

func (u *recordingUsage) all() []ports.UsageRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]ports.UsageRecord(nil), u.records...)
}

type memStore struct {
	mu   sync.Mutex
	data map[string]session.Session
}

func newMemStore() *memStore {
	return &memStore{data: map[string]session.Session{}}
}

func (m *memStore) Load(_ context.Context, sessionID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[sessionID]
	if !ok {
		return nil, ports.ErrSessionNotStored
	}
	clone := rec.Clone()
	return &clone, nil
}

func (m *memStore) Save(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.ID] = s.Clone()
	return nil
}

func (m *memStore) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.data))
	for k := range m.data {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sessionID)
	return nil
}

func (m *memStore) has(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[sessionID]
	return ok
}

type fakeTools struct {
	mu      sync.Mutex
	defs    []ports.ToolDefinition
	execute func(ctx context.Context, call session.ToolCall) (ports.ToolResult, error)
	calls   []session.ToolCall
}

func (f *fakeTools) Definitions() []ports.ToolDefinition { return f.defs }

func (f *fakeTools) Execute(ctx context.Context, call session.ToolCall) (ports.ToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.execute == nil {
		return ports.ToolResult{}, fmt.Errorf("tool %s not implemented", call.Name)
	}
	return f.execute(ctx, call)
}

type fixture struct {
	engine     *Engine
	factory    *scriptedFactory
	dispatcher *recordingDispatcher
	usage      *recordingUsage
	store      *memStore
	catalog    *config.Config
}

type fixtureOption func(*Dependencies, *Config)

func withStore(store *memStore) fixtureOption {
	return func(d *Dependencies, _ *Config) { d.Store = store }
}

func withTools(tools ports.ToolExecutor) fixtureOption {
	return func(d *Dependencies, _ *Config) { d.Tools = tools }
}

func withConfig(mutate func(*Config)) fixtureOption {
	return func(_ *Dependencies, c *Config) { mutate(c) }
}

func newFixture(t *testing.T, catalog *config.Config, opts ...fixtureOption) *fixture {
	t.Helper()
	fx := &fixture{
		factory:    newScriptedFactory(),
		dispatcher: &recordingDispatcher{},
		usage:      &recordingUsage{},
		catalog:    catalog,
	}
	deps := Dependencies{
		Catalog:    catalog,
		Providers:  fx.factory,
		Usage:      fx.usage,
		Dispatcher: fx.dispatcher,
	}
	cfg := Config{}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	if store, ok := deps.Store.(*memStore); ok {
		fx.store = store
	}
	engine, err := New(deps, cfg)
	require.NoError(t, err)
	fx.engine = engine
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})
	return fx
}

func waitIdle(t *testing.T, e *Engine, sessionID string) session.Session {
	t.Helper()
	var snap session.Session
	require.Eventually(t, func() bool {
		s, ok := e.GetSession(sessionID)
		if !ok {
			return false
		}
		snap = s
		return !s.Processing && len(s.Queue) == 0
	}, 3*time.Second, 5*time.Millisecond)
	return snap
}

func eventTypes(events []event.Event) []event.Type {
	out := make([]event.Type, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type())
	}
	return out
}
