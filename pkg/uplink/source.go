package uplink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irisware/go-iris/pkg/protocol"
	"github.com/irisware/go-iris/pkg/sense"
)

// ErrSourceClosed is returned when capturing from a closed source.
var ErrSourceClosed = errors.New("uplink: frame source closed")

// Source adapts pushed head-unit frames to the pull-based FrameSource
// contract the acquisition gate expects. Wire it to a hub:
//
//	src := uplink.NewFrameSource()
//	hub.OnFrame(func(_ string, f *protocol.FrameData) { src.Offer(f) })
type Source struct {
	mu     sync.RWMutex
	latest []byte

	ready     chan struct{}
	closeOnce sync.Once
	closeCh   chan struct{}
	closed    atomic.Bool

	seq atomic.Uint64
}

var _ sense.FrameSource = (*Source)(nil)

// NewFrameSource creates an empty source.
func NewFrameSource() *Source {
	return &Source{
		ready:   make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Offer stores a freshly pushed frame and wakes one waiting capture.
func (s *Source) Offer(frame *protocol.FrameData) error {
	if s.closed.Load() {
		return ErrSourceClosed
	}

	jpeg, err := frame.DecodeFrameData()
	if err != nil {
		return fmt.Errorf("uplink: decode frame payload: %w", err)
	}

	s.mu.Lock()
	s.latest = jpeg
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return nil
}

// CaptureFrame returns the most recently pushed frame, blocking until one
// arrives or the context expires.
func (s *Source) CaptureFrame(ctx context.Context) (*sense.Frame, error) {
	if s.closed.Load() {
		return nil, ErrSourceClosed
	}

	for {
		s.mu.RLock()
		jpeg := s.latest
		s.mu.RUnlock()

		if jpeg != nil {
			encoded := append([]byte(nil), jpeg...)
			frame, err := sense.NewFrame(s.seq.Add(1), time.Now(), encoded)
			if err != nil {
				return frame, fmt.Errorf("uplink: %w", err)
			}
			return frame, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closeCh:
			return nil, ErrSourceClosed
		case <-s.ready:
		}
	}
}

// Close stops the source. Safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
	})
	return nil
}
