package internal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

// PresentationSink receives every remote track the session accepts. Clear
// resets the sink to its empty state once the session ends.
type PresentationSink interface {
	Render(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	Clear()
}

// RecordingUploader is the slice of the recording store the sink needs.
type RecordingUploader interface {
	Upload(ctx context.Context, name string, r io.Reader, size int64) error
}

const uploadTimeout = 30 * time.Second

// RecorderSink records each remote video track into a container and uploads
// the finished object once the track ends.
type RecorderSink struct {
	store  RecordingUploader
	logger *slog.Logger

	wg sync.WaitGroup
}

func NewRecorderSink(store RecordingUploader, logger *slog.Logger) *RecorderSink {
	return &RecorderSink{store: store, logger: logger}
}

// remoteTrack is what record reads from; *webrtc.TrackRemote satisfies it.
type remoteTrack interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

func (s *RecorderSink) Render(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.record(track, track.Codec().MimeType)
	}()
}

func (s *RecorderSink) record(track remoteTrack, mimeType string) {
	buf := &bytes.Buffer{}
	writer, ext, err := writerForCodec(mimeType, buf)
	if err != nil {
		s.logger.Warn("cannot record remote track, draining instead", "codec", mimeType, "err", err)
		drainTrack(track)
		return
	}

	var wrote bool
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			break
		}
		if err := writer.WriteRTP(pkt); err != nil {
			s.logger.Warn("writing recording frame", "err", err)
			break
		}
		wrote = true
	}
	if err := writer.Close(); err != nil {
		s.logger.Warn("closing recording writer", "err", err)
	}

	if !wrote || buf.Len() == 0 {
		return
	}

	name := "recording-" + uuid.NewString() + ext
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	if err := s.store.Upload(ctx, name, buf, int64(buf.Len())); err != nil {
		s.logger.Error("uploading recording", "name", name, "err", err)
	}
}

// Clear blocks until every in-flight recording has flushed to storage. The
// session closes the peer first, so track reads have already unblocked.
func (s *RecorderSink) Clear() {
	s.wg.Wait()
}

func writerForCodec(mimeType string, out io.Writer) (media.Writer, string, error) {
	switch mimeType {
	case webrtc.MimeTypeVP8:
		w, err := ivfwriter.NewWith(out)
		return w, ".ivf", err
	case webrtc.MimeTypeAV1:
		w, err := ivfwriter.NewWith(out, ivfwriter.WithCodec(webrtc.MimeTypeAV1))
		return w, ".ivf", err
	case webrtc.MimeTypeH264:
		return h264writer.NewWith(out), ".h264", nil
	}
	return nil, "", fmt.Errorf("no recorder for codec %s", mimeType)
}

// drainTrack keeps reading so the transport's feedback loops stay fed even
// when nothing records the track.
func drainTrack(track remoteTrack) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
