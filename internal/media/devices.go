package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/BioHazard786/Huddle/internal/call"
)

var (
	ErrNoCamera     = errors.New("video capture disabled")
	ErrNoTracks     = errors.New("no audio or video requested")
	ErrStreamClosed = errors.New("stream stopped")
)

const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Devices hands out local tracks. A terminal has no capture hardware wired
// in, so audio tracks carry silence and video tracks carry the frames of
// an IVF file, or nothing when none is configured.
type Devices struct {
	audioOnly bool
	videoFile string
}

// NewDevices returns Devices; with audioOnly set every video request fails.
// videoFile, when set, is looped as the camera.
func NewDevices(audioOnly bool, videoFile string) *Devices {
	return &Devices{audioOnly: audioOnly, videoFile: videoFile}
}

func (d *Devices) Acquire(ctx context.Context, c call.Constraints) (call.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, ErrNoTracks
	}
	if c.Video && d.audioOnly {
		return nil, ErrNoCamera
	}

	var source *ivfreader.IVFReader
	var header *ivfreader.IVFFileHeader
	var file *os.File
	if c.Video && d.videoFile != "" {
		f, err := os.Open(d.videoFile)
		if err != nil {
			return nil, fmt.Errorf("open video file: %w", err)
		}
		source, header, err = ivfreader.NewWith(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read video file: %w", err)
		}
		file = f
	}

	s := &Stream{ID: "huddle-" + uuid.NewString(), done: make(chan struct{})}
	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", s.ID,
		)
		if err != nil {
			closeFile(file)
			return nil, err
		}
		s.audio = track
	}
	if c.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", s.ID,
		)
		if err != nil {
			closeFile(file)
			return nil, err
		}
		s.video = track
	}

	if s.audio != nil {
		go s.pumpSilence()
	}
	if file != nil {
		go s.pumpVideo(file, source, ivfFrameDuration(header))
	}
	slog.Debug("local media acquired", "stream", s.ID, "audio", c.Audio, "video", c.Video, "source", d.videoFile)
	return s, nil
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}

// ivfFrameDuration converts the IVF timebase into a frame interval.
func ivfFrameDuration(h *ivfreader.IVFFileHeader) time.Duration {
	if h == nil || h.TimebaseDenominator == 0 || h.TimebaseNumerator == 0 {
		return 33 * time.Millisecond
	}
	return time.Duration(uint64(time.Second) * uint64(h.TimebaseNumerator) / uint64(h.TimebaseDenominator))
}

// Stream is a set of local tracks owned by one call.
type Stream struct {
	ID string

	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	muted     atomic.Bool
	cameraOff atomic.Bool

	// counts of samples handed to the tracks
	audioSent atomic.Int64
	videoSent atomic.Int64

	stopOnce sync.Once
	done     chan struct{}
}

// Tracks returns the stream's tracks, audio first.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

// HasVideo reports whether a video track was opened.
func (s *Stream) HasVideo() bool {
	return s.video != nil
}

// SetMuted pauses or resumes the microphone.
func (s *Stream) SetMuted(muted bool) {
	s.muted.Store(muted)
	slog.Debug("microphone", "stream", s.ID, "muted", muted)
}

// SetCameraOff pauses or resumes video frames.
func (s *Stream) SetCameraOff(off bool) {
	s.cameraOff.Store(off)
	slog.Debug("camera", "stream", s.ID, "off", off)
}

// WriteVideo sends one encoded VP8 frame. Frames written while the camera
// is off are dropped.
func (s *Stream) WriteVideo(frame []byte, duration time.Duration) error {
	if s.video == nil {
		return ErrNoCamera
	}
	if s.Stopped() {
		return ErrStreamClosed
	}
	if s.cameraOff.Load() {
		return nil
	}
	if err := s.video.WriteSample(pionmedia.Sample{Data: frame, Duration: duration}); err != nil {
		return err
	}
	s.videoSent.Add(1)
	return nil
}

// Stop releases the stream. It is safe to call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		slog.Debug("local media released", "stream", s.ID)
	})
}

func (s *Stream) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Stream) pumpSilence() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.muted.Load() {
				continue
			}
			if err := s.audio.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				slog.Debug("audio write failed", "stream", s.ID, "error", err)
				continue
			}
			s.audioSent.Add(1)
		}
	}
}

// pumpVideo plays the IVF file at its own frame rate, starting over at the
// end, until the stream stops.
func (s *Stream) pumpVideo(file *os.File, reader *ivfreader.IVFReader, interval time.Duration) {
	defer file.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				slog.Warn("video file rewind failed", "stream", s.ID, "error", err)
				return
			}
			if reader, _, err = ivfreader.NewWith(file); err != nil {
				slog.Warn("video file unreadable", "stream", s.ID, "error", err)
				return
			}
			continue
		}
		if err != nil {
			slog.Warn("video frame unreadable", "stream", s.ID, "error", err)
			return
		}

		if err := s.WriteVideo(frame, interval); err != nil && !errors.Is(err, ErrStreamClosed) {
			slog.Debug("video write failed", "stream", s.ID, "error", err)
		}
	}
}
