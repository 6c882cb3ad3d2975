package internal

import (
	"context"
	"testing"

	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireBadCameraURL(t *testing.T) {
	capture := NewRTSPCapture("not a url", discardLogger())

	_, err := capture.Acquire(context.Background())

	var mediaErr *MediaAcquisitionError
	require.ErrorAs(t, err, &mediaErr)
}

func TestAcquireCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	capture := NewRTSPCapture("rtsp://127.0.0.1:8554/cam", discardLogger())
	_, err := capture.Acquire(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCaptureSetStopIsIdempotent(t *testing.T) {
	stops := 0
	set := NewCaptureSet(nil, func() { stops++ })

	set.Stop()
	set.Stop()

	assert.Equal(t, 1, stops)
}

func TestMimeForFormat(t *testing.T) {
	cases := []struct {
		forma format.Format
		mime  string
		ok    bool
	}{
		{&format.H264{}, webrtc.MimeTypeH264, true},
		{&format.VP8{}, webrtc.MimeTypeVP8, true},
		{&format.VP9{}, webrtc.MimeTypeVP9, true},
		{&format.Opus{}, webrtc.MimeTypeOpus, true},
		{&format.G711{}, "", false},
	}

	for _, tc := range cases {
		mime, ok := mimeForFormat(tc.forma)
		assert.Equal(t, tc.ok, ok, "format %T", tc.forma)
		assert.Equal(t, tc.mime, mime, "format %T", tc.forma)
	}
}
