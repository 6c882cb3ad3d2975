package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// MediaCapture acquires the local media tracks for one negotiation attempt.
type MediaCapture interface {
	Acquire(ctx context.Context) (*CaptureSet, error)
}

// CaptureSet is one acquired set of local tracks plus the hook that releases
// the underlying device.
type CaptureSet struct {
	Tracks []webrtc.TrackLocal

	stopOnce sync.Once
	stop     func()
}

func NewCaptureSet(tracks []webrtc.TrackLocal, stop func()) *CaptureSet {
	return &CaptureSet{Tracks: tracks, stop: stop}
}

// Stop releases the capture device. Safe to call more than once.
func (cs *CaptureSet) Stop() {
	cs.stopOnce.Do(func() {
		if cs.stop != nil {
			cs.stop()
		}
	})
}

// RTSPCapture reads the camera over RTSP and republishes its RTP packets on
// local WebRTC tracks.
type RTSPCapture struct {
	url    string
	logger *slog.Logger
}

func NewRTSPCapture(url string, logger *slog.Logger) *RTSPCapture {
	return &RTSPCapture{url: url, logger: logger}
}

func (c *RTSPCapture) Acquire(ctx context.Context) (*CaptureSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := base.ParseURL(c.url)
	if err != nil {
		return nil, &MediaAcquisitionError{Err: fmt.Errorf("parse camera url: %w", err)}
	}

	client := &gortsplib.Client{}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, &MediaAcquisitionError{Err: fmt.Errorf("connect to camera: %w", err)}
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return nil, &MediaAcquisitionError{Err: fmt.Errorf("describe camera: %w", err)}
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		client.Close()
		return nil, &MediaAcquisitionError{Err: fmt.Errorf("setup camera medias: %w", err)}
	}

	// one local track per media, first supported format wins
	byMedia := make(map[*description.Media]*webrtc.TrackLocalStaticRTP)
	var locals []webrtc.TrackLocal
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			mime, ok := mimeForFormat(forma)
			if !ok {
				c.logger.Debug("skipping unsupported camera format", "codec", forma.Codec())
				continue
			}

			id := "camera-" + uuid.NewString()
			track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, id, id)
			if err != nil {
				client.Close()
				return nil, &MediaAcquisitionError{Err: fmt.Errorf("create local track: %w", err)}
			}
			byMedia[media] = track
			locals = append(locals, track)
			break
		}
	}
	if len(locals) == 0 {
		client.Close()
		return nil, &MediaAcquisitionError{Err: fmt.Errorf("camera exposes no supported media")}
	}

	client.OnPacketRTPAny(func(media *description.Media, _ format.Format, pkt *rtp.Packet) {
		track, ok := byMedia[media]
		if !ok {
			return
		}
		if err := track.WriteRTP(pkt); err != nil {
			c.logger.Debug("dropping camera packet", "err", err)
		}
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return nil, &MediaAcquisitionError{Err: fmt.Errorf("play camera stream: %w", err)}
	}

	c.logger.Info("camera stream playing", "url", c.url, "tracks", len(locals))

	return NewCaptureSet(locals, func() { client.Close() }), nil
}

func mimeForFormat(forma format.Format) (string, bool) {
	switch forma.(type) {
	case *format.H264:
		return webrtc.MimeTypeH264, true
	case *format.VP8:
		return webrtc.MimeTypeVP8, true
	case *format.VP9:
		return webrtc.MimeTypeVP9, true
	case *format.Opus:
		return webrtc.MimeTypeOpus, true
	}
	return "", false
}
