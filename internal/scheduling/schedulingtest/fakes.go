package schedulingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// LocalLocker serializes work per doctor inside one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// Busy makes every acquisition fail with this error.
	Busy error
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*sync.Mutex{}}
}

func (l *LocalLocker) WithDoctorLock(ctx context.Context, clinicID, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	if l.Busy != nil {
		return l.Busy
	}

	key := clinicID.String() + ":" + doctorID.String()
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

type SentMessage struct {
	To   string
	Text string
}

// Outbox records every message it is asked to send.
type Outbox struct {
	mu   sync.Mutex
	Sent []SentMessage
	// Fail makes Send return this error after recording the attempt.
	Fail error
}

func (o *Outbox) Send(_ context.Context, to, text string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Sent = append(o.Sent, SentMessage{To: to, Text: text})
	if o.Fail != nil {
		return "", o.Fail
	}
	return fmt.Sprintf("wamid.%d", len(o.Sent)), nil
}

func (o *Outbox) Messages() []SentMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SentMessage, len(o.Sent))
	copy(out, o.Sent)
	return out
}
