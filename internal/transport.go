package internal

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// TransportPeer is the slice of the platform peer connection the negotiation
// session drives. The production implementation wraps a pion PeerConnection;
// tests substitute their own.
type TransportPeer interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	SetRemoteDescription(desc webrtc.SessionDescription) error
	GatheringComplete() <-chan struct{}
	OnTrack(f func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(state webrtc.PeerConnectionState))
	RequestKeyFrame(ssrc uint32) error
	Close() error
}

// PeerFactory allocates a TransportPeer for one negotiation attempt.
type PeerFactory func(stunServers []string) (TransportPeer, error)

type pionPeer struct {
	pc *webrtc.PeerConnection
}

// NewPionPeer builds a peer connection with the default codecs and
// interceptors registered and the given STUN servers configured.
func NewPionPeer(stunServers []string) (TransportPeer, error) {
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
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	return &pionPeer{pc: pc}, nil
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go drainRTCP(sender)
	return nil
}

// drainRTCP keeps the interceptor pipeline fed with the sender reports
// arriving for a local track.
func drainRTCP(sender *webrtc.RTPSender) {
	rtcpBuf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(rtcpBuf); err != nil {
			return
		}
	}
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(p.pc)
}

func (p *pionPeer) OnTrack(f func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	p.pc.OnTrack(f)
}

func (p *pionPeer) OnConnectionStateChange(f func(state webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(f)
}

func (p *pionPeer) RequestKeyFrame(ssrc uint32) error {
	return p.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: ssrc},
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
