package chathub_test

import (
	"context"
	"encoding/json"
	"sync"

	"parley/backend/internal/models"
)

// MockClient records every event the hub delivers to it.
type MockClient struct {
	id     string
	userID string

	mu     sync.Mutex
	events []models.Event
	closed bool
}

func newMockClient(id, userID string) *MockClient {
	return &MockClient{id: id, userID: userID}
}

func (c *MockClient) ID() string     { return c.id }
func (c *MockClient) UserID() string { return c.userID }

func (c *MockClient) Deliver(_ context.Context, ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.events = append(c.events, ev)
	}
	return nil
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) received() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.events...)
}

func (c *MockClient) last() models.Event {
	events := c.received()
	if len(events) == 0 {
		return models.Event{}
	}
	return events[len(events)-1]
}

func event(t models.EventType, payload any) models.Event {
	ev, err := models.NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

func errorCode(ev models.Event) string {
	var p models.ErrorPayload
	_ = json.Unmarshal(ev.Data, &p)
	return p.Code
}
