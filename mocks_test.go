package sessionsync_test

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
	sessionsync "github.com/goliatone/go-session-sync"
	"github.com/stretchr/testify/mock"
)

// MockIdentityProvider implements sessionsync.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock

	mu       sync.Mutex
	handlers []sessionsync.NotificationFunc
}

func (m *MockIdentityProvider) SignIn(ctx context.Context, email, password string) (*sessionsync.Session, error) {
	args := m.Called(ctx, email, password)
	session, _ := args.Get(0).(*sessionsync.Session)
	return session, args.Error(1)
}

func (m *MockIdentityProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*sessionsync.Identity, error) {
	args := m.Called(ctx, email, password, metadata)
	identity, _ := args.Get(0).(*sessionsync.Identity)
	return identity, args.Error(1)
}

func (m *MockIdentityProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityProvider) CurrentSession(ctx context.Context) (*sessionsync.Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*sessionsync.Session)
	return session, args.Error(1)
}

func (m *MockIdentityProvider) Subscribe(fn sessionsync.NotificationFunc) sessionsync.Unsubscribe {
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	idx := len(m.handlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.handlers[idx] = nil
		m.mu.Unlock()
	}
}

// Notify pushes an event to subscribers the way the remote service does.
func (m *MockIdentityProvider) Notify(event sessionsync.SessionEvent, session *sessionsync.Session) {
	m.mu.Lock()
	handlers := make([]sessionsync.NotificationFunc, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, fn := range handlers {
		if fn != nil {
			fn(event, session)
		}
	}
}

// MockAccountDirectory implements sessionsync.AccountDirectory
type MockAccountDirectory struct {
	mock.Mock
}

func (m *MockAccountDirectory) GetProfile(ctx context.Context, id string) (*sessionsync.Profile, error) {
	args := m.Called(ctx, id)
	profile, _ := args.Get(0).(*sessionsync.Profile)
	return profile, args.Error(1)
}

func (m *MockAccountDirectory) CreateProfile(ctx context.Context, profile *sessionsync.Profile) (*sessionsync.Profile, error) {
	args := m.Called(ctx, profile)
	created, _ := args.Get(0).(*sessionsync.Profile)
	return created, args.Error(1)
}

func (m *MockAccountDirectory) UpdateProfile(ctx context.Context, id string, update sessionsync.ProfileUpdate) (*sessionsync.Profile, error) {
	args := m.Called(ctx, id, update)
	updated, _ := args.Get(0).(*sessionsync.Profile)
	return updated, args.Error(1)
}

// memoryDirectory is a stateful AccountDirectory fake for flows where
// mock choreography would obscure the behavior under test.
type memoryDirectory struct {
	mu          sync.Mutex
	profiles    map[string]*sessionsync.Profile
	createCalls int
	failCreate  error
	failGet     error
	failUpdate  error
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{profiles: map[string]*sessionsync.Profile{}}
}

func (d *memoryDirectory) GetProfile(_ context.Context, id string) (*sessionsync.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failGet != nil {
		return nil, d.failGet
	}

	profile, ok := d.profiles[id]
	if !ok {
		return nil, sessionsync.ErrProfileNotFound
	}

	clone := *profile
	return &clone, nil
}

func (d *memoryDirectory) CreateProfile(_ context.Context, profile *sessionsync.Profile) (*sessionsync.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.createCalls++

	if d.failCreate != nil {
		return nil, d.failCreate
	}

	key := profile.ID.String()
	if _, exists := d.profiles[key]; exists {
		return nil, errors.New("duplicate profile", errors.CategoryConflict)
	}

	clone := *profile
	d.profiles[key] = &clone

	out := clone
	return &out, nil
}

func (d *memoryDirectory) UpdateProfile(_ context.Context, id string, update sessionsync.ProfileUpdate) (*sessionsync.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failUpdate != nil {
		return nil, d.failUpdate
	}

	profile, ok := d.profiles[id]
	if !ok {
		return nil, sessionsync.ErrProfileNotFound
	}

	update.Apply(profile)
	clone := *profile
	return &clone, nil
}

func (d *memoryDirectory) CreateCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createCalls
}

func (d *memoryDirectory) Put(profile *sessionsync.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := *profile
	d.profiles[profile.ID.String()] = &clone
}

func (d *memoryDirectory) FailCreate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failCreate = err
}

func (d *memoryDirectory) FailGet(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failGet = err
}

func (d *memoryDirectory) FailUpdate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failUpdate = err
}

// captureSink records every activity event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []sessionsync.ActivityEvent
}

func (c *captureSink) Record(_ context.Context, event sessionsync.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) Events() []sessionsync.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sessionsync.ActivityEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *captureSink) Types() []sessionsync.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sessionsync.ActivityEventType, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.EventType)
	}
	return out
}

func (c *captureSink) Has(eventType sessionsync.ActivityEventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range c.events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}
