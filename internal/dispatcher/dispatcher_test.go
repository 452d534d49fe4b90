package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func TestDispatcher_Handler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register("register", func(e Event) error {
		got = e
		return nil
	})

	err := d.Dispatch(Event{Type: "register", Payload: []byte(`{"type":"register"}`)})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got.Type != "register" {
		t.Errorf("handler was not called, got %+v", got)
	}
	if string(got.Payload) != `{"type":"register"}` {
		t.Errorf("payload not passed through: %s", got.Payload)
	}
}

func TestDispatcher_UnknownType(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(Event{Type: "teleport"})

	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestDispatcher_HandlerError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	want := errors.New("bad payload")
	d.Register("respawn", func(e Event) error { return want })

	if err := d.Dispatch(Event{Type: "respawn"}); !errors.Is(err, want) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestDispatcher_RecoversPanic(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("new_pulse", func(e Event) error {
		panic("nil pulse")
	})

	err := d.Dispatch(Event{Type: "new_pulse"})

	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("expected panic to surface as error, got %v", err)
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("player_left", func(e Event) error {
		return nil
	}, Logged())

	d.Dispatch(Event{Type: "player_left", Payload: []byte("{}")})

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected at least 2 log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("health_update", func(e Event) error {
		return fmt.Errorf("test error")
	}, Logged())

	d.Dispatch(Event{Type: "health_update"})

	logger.mu.Lock()
	defer logger.mu.Unlock()

	hasError := false
	for _, msg := range logger.messages {
		if strings.HasPrefix(msg, "ERROR") {
			hasError = true
			break
		}
	}

	if !hasError {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("register", func(e Event) error { return nil })
	d.Register("player_joined", func(e Event) error { return nil })

	if !d.HasHandler("register") {
		t.Error("expected handler to exist")
	}

	if d.HasHandler("positions") {
		t.Error("expected handler to not exist")
	}

	types := d.Types()
	if len(types) != 2 || types[0] != "player_joined" || types[1] != "register" {
		t.Errorf("unexpected types %v", types)
	}
}
