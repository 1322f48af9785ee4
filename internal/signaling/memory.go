package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/warpcall/internal/identity"
)

// ErrUnreachable is returned by in-memory transports when the recipient
// never attached.
var ErrUnreachable = errors.New("recipient unreachable")

// Switchboard connects in-process transports to each other. Delivery is
// synchronous on the sending goroutine.
type Switchboard struct {
	mu    sync.Mutex
	lines map[identity.ID]*Line
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{lines: make(map[identity.ID]*Line)}
}

// Attach returns the transport for id.
func (s *Switchboard) Attach(id identity.ID) *Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lines[id]; ok {
		return l
	}
	l := &Line{id: id, board: s, subs: make(map[int]func(string, []byte))}
	s.lines[id] = l
	return l
}

func (s *Switchboard) line(id identity.ID) *Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines[id]
}

// Line is one identity's connection to a Switchboard.
type Line struct {
	id    identity.ID
	board *Switchboard

	mu     sync.Mutex
	subs   map[int]func(string, []byte)
	nextID int
}

func (l *Line) Send(ctx context.Context, to identity.ID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := l.board.line(to)
	if dst == nil {
		return fmt.Errorf("%w: %s", ErrUnreachable, to)
	}
	dst.deliver(string(l.id)+"/switchboard", data)
	return nil
}

func (l *Line) Subscribe(fn func(from string, data []byte)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}

func (l *Line) deliver(from string, data []byte) {
	l.mu.Lock()
	subs := make([]func(string, []byte), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(from, append([]byte(nil), data...))
	}
}
