package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// Status is the externally visible condition of the session.
type Status int

const (
	StatusUnconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUnconnected:
		return "unconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Signaler performs the single offer/answer exchange with the remote peer.
type Signaler interface {
	Exchange(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

// ErrSessionBusy is returned by Begin while a prior peer from this session is
// still open.
var ErrSessionBusy = errors.New("negotiation already in progress")

const keyFrameInterval = 3 * time.Second

// Session owns one peer connection lifecycle. Begin drives the local-offer →
// remote-answer handshake to completion, gating offer transmission on full
// candidate gathering; End releases everything. After End the session is
// empty and Begin may be called again.
type Session struct {
	capture    MediaCapture
	signaler   Signaler
	sinks      []PresentationSink
	newPeer    PeerFactory
	stun       []string
	gatherWait time.Duration // 0 waits without deadline
	logger     *slog.Logger

	statusMu sync.Mutex
	onStatus func(Status)

	mu     sync.Mutex
	peer   TransportPeer
	tracks *CaptureSet
	cancel context.CancelFunc // unwinds an in-flight Begin
	busy   bool
}

type SessionOption func(*Session)

// WithGatheringTimeout bounds the candidate-gathering wait. Zero keeps the
// wait unbounded.
func WithGatheringTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.gatherWait = d }
}

// WithPeerFactory overrides how the transport peer is allocated.
func WithPeerFactory(f PeerFactory) SessionOption {
	return func(s *Session) { s.newPeer = f }
}

func NewSession(capture MediaCapture, signaler Signaler, sinks []PresentationSink, stunServers []string, logger *slog.Logger, opts ...SessionOption) *Session {
	s := &Session{
		capture:  capture,
		signaler: signaler,
		sinks:    sinks,
		newPeer:  NewPionPeer,
		stun:     stunServers,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetStatusHandler registers the observer notified on every status change.
func (s *Session) SetStatusHandler(f func(Status)) {
	s.statusMu.Lock()
	s.onStatus = f
	s.statusMu.Unlock()
}

func (s *Session) report(status Status) {
	s.statusMu.Lock()
	f := s.onStatus
	s.statusMu.Unlock()
	if f != nil {
		f(status)
	}
}

// Begin runs the full handshake: acquire media, build the peer, attach
// tracks, commit the offer, wait for gathering to complete, exchange
// descriptions with the signaling endpoint and apply the answer. On any
// failure every partially built resource is released before the error is
// returned; the transport keeps connecting asynchronously after success.
func (s *Session) Begin(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.busy || s.peer != nil {
		s.mu.Unlock()
		cancel()
		return ErrSessionBusy
	}
	s.busy = true
	s.cancel = cancel
	s.mu.Unlock()

	err := s.negotiate(runCtx)

	s.mu.Lock()
	s.busy = false
	if err != nil {
		s.cancel = nil
	}
	s.mu.Unlock()

	if err != nil {
		cancel()
		s.teardown()
		if errors.Is(err, context.Canceled) {
			s.report(StatusUnconnected)
		} else {
			s.report(StatusError)
		}
		return err
	}
	return nil
}

func (s *Session) negotiate(ctx context.Context) error {
	s.report(StatusConnecting)

	s.logger.Info("acquiring local media")
	set, err := s.capture.Acquire(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tracks = set
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	peer, err := s.newPeer(s.stun)
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}

	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()

	for _, track := range set.Tracks {
		if err := peer.AddTrack(track); err != nil {
			return fmt.Errorf("attach local track: %w", err)
		}
	}

	peer.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.logger.Info("remote track arrived", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		go s.keyFrameLoop(ctx, peer, uint32(track.SSRC()))
		for _, sink := range s.sinks {
			sink.Render(track, receiver)
		}
	})

	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.report(StatusConnected)
		case webrtc.PeerConnectionStateDisconnected:
			// transient, the transport may still recover
			s.report(StatusConnecting)
		case webrtc.PeerConnectionStateFailed:
			s.report(StatusError)
		}
	})

	gatherComplete := peer.GatheringComplete()

	offer, err := peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("commit local description: %w", err)
	}

	if err := s.awaitGathering(ctx, gatherComplete); err != nil {
		return err
	}

	local := peer.LocalDescription()
	if local == nil {
		return errors.New("local description missing after gathering")
	}

	s.logger.Info("sending offer", "type", local.Type.String())
	answer, err := s.signaler.Exchange(ctx, *local)
	if err != nil {
		return err
	}

	if err := peer.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("apply remote description: %w", err)
	}

	s.logger.Info("negotiation complete, transport connecting")
	return nil
}

// awaitGathering suspends until candidate gathering finishes. The offer must
// carry the full candidate set; no trickle ICE. End, a canceled context or
// the configured deadline all unblock the wait.
func (s *Session) awaitGathering(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		// gathering already finished, no wait
		return nil
	default:
	}

	var deadline <-chan time.Time
	if s.gatherWait > 0 {
		timer := time.NewTimer(s.gatherWait)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return &GatheringTimeoutError{Timeout: s.gatherWait}
	}
}

// keyFrameLoop periodically asks the remote side for a keyframe so late
// joining sinks get a decodable stream.
func (s *Session) keyFrameLoop(ctx context.Context, peer TransportPeer, ssrc uint32) {
	ticker := time.NewTicker(keyFrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := peer.RequestKeyFrame(ssrc); err != nil {
				return
			}
		}
	}
}

// End tears the session down: the peer is closed, local tracks are stopped
// and sinks are reset. Idempotent, and safe to call while a Begin is in
// flight: any pending suspension unwinds and the session ends up empty.
func (s *Session) End() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.teardown()
	s.report(StatusUnconnected)
}

// teardown releases whatever is currently held. Errors are logged only:
// cleanup always completes.
func (s *Session) teardown() {
	s.mu.Lock()
	peer := s.peer
	tracks := s.tracks
	s.peer = nil
	s.tracks = nil
	s.mu.Unlock()

	// close the peer first so sink readers unblock
	if peer != nil {
		if err := peer.Close(); err != nil {
			s.logger.Warn("closing peer", "err", err)
		}
	}
	if tracks != nil {
		tracks.Stop()
	}
	for _, sink := range s.sinks {
		sink.Clear()
	}
}
