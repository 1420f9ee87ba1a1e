// Package frame holds the most recently delivered pose frame and fans it out
// to per-session subscriptions.
package frame

import (
	"sync"
	"time"

	"github.com/dinorun/posecontrol/internal/channel"
	"github.com/dinorun/posecontrol/pkg/core"
)

// Latest keeps only the newest PoseFrame. Frames with a sequence number at or
// below the current one are ignored, so readers never go backwards.
type Latest struct {
	mu      sync.RWMutex
	frame   core.PoseFrame
	has     bool
	nextSeq uint64
	subs    map[*Subscription]struct{}
	now     func() time.Time
}

// NewLatest creates an empty holder.
func NewLatest() *Latest {
	return &Latest{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Submit stores f as the newest frame. A zero Seq is replaced by the next
// sequence number; a zero ReceivedAt is stamped with the current time.
// Returns false if f is older than the frame already held.
func (l *Latest) Submit(f core.PoseFrame) bool {
	l.mu.Lock()
	if f.Seq == 0 {
		f.Seq = l.nextSeq + 1
	}
	if l.has && f.Seq <= l.frame.Seq {
		l.mu.Unlock()
		return false
	}
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = l.now()
	}
	l.frame = f
	l.has = true
	l.nextSeq = f.Seq
	subs := make([]*Subscription, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		s.ch.Send(f)
	}
	return true
}

// Latest returns the newest frame, if any has been delivered.
func (l *Latest) Latest() (core.PoseFrame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.has
}

// Seq returns the sequence number of the newest frame (0 if none).
func (l *Latest) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.has {
		return 0
	}
	return l.frame.Seq
}

// Subscribe returns a handle that receives each new frame. Slow readers only
// see the newest frame. The handle must be closed when no longer needed.
func (l *Latest) Subscribe() *Subscription {
	s := &Subscription{ch: channel.NewConflated[core.PoseFrame](), owner: l}
	l.mu.Lock()
	l.subs[s] = struct{}{}
	l.mu.Unlock()
	return s
}

// Subscribers returns the number of open subscriptions.
func (l *Latest) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// CloseAll releases every open subscription.
func (l *Latest) CloseAll() {
	l.mu.Lock()
	subs := l.subs
	l.subs = make(map[*Subscription]struct{})
	l.mu.Unlock()

	for s := range subs {
		s.ch.Close()
	}
}

func (l *Latest) remove(s *Subscription) {
	l.mu.Lock()
	delete(l.subs, s)
	l.mu.Unlock()
}

// Subscription delivers frames from a Latest holder.
type Subscription struct {
	ch    *channel.Conflated[core.PoseFrame]
	owner *Latest
	once  sync.Once
}

// C returns the frame channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan core.PoseFrame {
	return s.ch.Receive()
}

// Skipped counts frames replaced before this subscriber read them.
func (s *Subscription) Skipped() uint64 {
	return s.ch.Replaced()
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.owner.remove(s)
		s.ch.Close()
	})
}
