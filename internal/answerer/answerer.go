package answerer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"camera-peer/configs"
)

const keyFrameInterval = 3 * time.Second

// Answerer is the remote side of the offer/answer exchange: it accepts an
// offer over POST /offer, answers it once its own candidate gathering
// finishes, and sends the caller's video straight back on the negotiated
// m-line. No decoding happens anywhere on the path.
type Answerer struct {
	envs   *configs.EnvVariables
	logger *slog.Logger

	listLock sync.Mutex
	peers    map[string]*webrtc.PeerConnection
}

func New(envs *configs.EnvVariables, logger *slog.Logger) *Answerer {
	return &Answerer{
		envs:   envs,
		logger: logger,
		peers:  map[string]*webrtc.PeerConnection{},
	}
}

func (a *Answerer) RegisterRoutes(r chi.Router) {
	r.Post("/offer", a.handleOffer)
}

func (a *Answerer) handleOffer(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		a.logger.Warn("rejecting malformed offer", "err", err)
		http.Error(w, "invalid offer", http.StatusBadRequest)
		return
	}

	peer, err := a.newPeer()
	if err != nil {
		a.logger.Error("creating peer", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()

	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		a.logger.Info("peer state changed", "peer", id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			peer.Close()
		case webrtc.PeerConnectionStateClosed:
			a.remove(id)
		}
	})

	if err := peer.SetRemoteDescription(offer); err != nil {
		a.logger.Warn("rejecting unusable offer", "err", err)
		peer.Close()
		http.Error(w, "invalid offer", http.StatusBadRequest)
		return
	}

	// the loopback track is attached before answering so the echo rides the
	// offered sendrecv m-line and no renegotiation is needed
	loopback, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: a.envs.LoopbackMime},
		"loopback-"+id, "loopback-"+id,
	)
	if err != nil {
		a.logger.Error("creating loopback track", "err", err)
		peer.Close()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	sender, err := peer.AddTrack(loopback)
	if err != nil {
		a.logger.Error("attaching loopback track", "err", err)
		peer.Close()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	go drainRTCP(sender)

	peer.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		a.logger.Info("inbound track, relaying back", "peer", id, "codec", track.Codec().MimeType)
		go a.keyFrameLoop(peer, uint32(track.SSRC()))
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			if err := loopback.WriteRTP(pkt); err != nil {
				return
			}
		}
	})

	answer, err := peer.CreateAnswer(nil)
	if err != nil {
		a.logger.Error("creating answer", "err", err)
		peer.Close()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(peer)
	if err := peer.SetLocalDescription(answer); err != nil {
		a.logger.Error("committing answer", "err", err)
		peer.Close()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// no trickle ICE: the answer must carry the full candidate set
	timeout := time.Duration(a.envs.GatheringTimeout) * time.Second
	if err := awaitGathering(r.Context(), gatherComplete, timeout); err != nil {
		a.logger.Error("candidate gathering did not finish", "peer", id, "err", err)
		peer.Close()
		if errors.Is(err, context.Canceled) {
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	a.listLock.Lock()
	a.peers[id] = peer
	a.listLock.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(peer.LocalDescription()); err != nil {
		a.logger.Error("writing answer", "err", err)
	}
}

var errGatheringTimeout = errors.New("candidate gathering did not complete in time")

// awaitGathering blocks until gathering finishes, the caller goes away, or
// the optional deadline fires. A zero timeout waits without deadline.
func awaitGathering(ctx context.Context, done <-chan struct{}, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return errGatheringTimeout
	}
}

func (a *Answerer) newPeer() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))

	config := webrtc.Configuration{}
	if len(a.envs.StunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: a.envs.StunServers}}
	}

	return api.NewPeerConnection(config)
}

// keyFrameLoop keeps asking the sender for keyframes so the relayed stream
// stays decodable for whoever joins it.
func (a *Answerer) keyFrameLoop(peer *webrtc.PeerConnection, ssrc uint32) {
	ticker := time.NewTicker(keyFrameInterval)
	defer ticker.Stop()
	for range ticker.C {
		err := peer.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: ssrc},
		})
		if err != nil {
			return
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	rtcpBuf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(rtcpBuf); err != nil {
			return
		}
	}
}

func (a *Answerer) remove(id string) {
	a.listLock.Lock()
	delete(a.peers, id)
	a.listLock.Unlock()
}

// Close tears down every open peer. Called on shutdown; errors are logged
// only.
func (a *Answerer) Close() {
	a.listLock.Lock()
	peers := a.peers
	a.peers = map[string]*webrtc.PeerConnection{}
	a.listLock.Unlock()

	for id, peer := range peers {
		if err := peer.Close(); err != nil {
			a.logger.Warn("closing peer", "peer", id, "err", err)
		}
	}
}
