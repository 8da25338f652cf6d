package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"

	"ringside/internal/pipeline"
)

// FFmpegSource reads an MJPEG image2pipe stream from an ffmpeg process
// started for a single session.
type FFmpegSource struct {
	name      string
	decoder   Decoder
	dropStale bool

	cmd    *exec.Cmd
	cancel context.CancelFunc
	frames chan frameItem
	done   chan struct{}
	exited chan struct{}

	seq        uint64
	stderrMu   sync.Mutex
	stderrLast string
	closeOnce  sync.Once
}

type frameItem struct {
	data []byte
	err  error
}

// ffmpegArgs builds the ffmpeg command line for a device or stream URL
func ffmpegArgs(device string, fps, width, height int) []string {
	output := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}
	if fps > 0 {
		output = append([]string{"-r", fmt.Sprintf("%d", fps)}, output...)
	}

	switch {
	case strings.HasPrefix(device, "rtsp://"):
		return append([]string{"-rtsp_transport", "tcp", "-i", device}, output...)
	case strings.HasPrefix(device, "http://"), strings.HasPrefix(device, "https://"):
		return append([]string{"-i", device}, output...)
	case strings.HasPrefix(device, "/dev/video"):
		// V4L2 device (USB camera)
		args := []string{"-f", "v4l2"}
		if width > 0 && height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", width, height))
		}
		if fps > 0 {
			args = append(args, "-framerate", fmt.Sprintf("%d", fps))
		}
		args = append(args, "-i", device)
		return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	default:
		// Local file, read at its native rate so it behaves like a live feed
		return append([]string{"-re", "-i", strings.TrimPrefix(device, "file://")}, output...)
	}
}

// OpenFFmpeg starts ffmpeg for cfg.URL
func OpenFFmpeg(ctx context.Context, cfg Config, dec Decoder) (*FFmpegSource, error) {
	bin := cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	args := append([]string{"-hide_banner", "-loglevel", "error"}, ffmpegArgs(cfg.URL, cfg.FPS, cfg.Width, cfg.Height)...)
	return startCommand(cfg.URL, dec, cfg.DropStale, bin, args...)
}

// startCommand runs name with args and splits its stdout into JPEG frames
func startCommand(source string, dec Decoder, dropStale bool, name string, args ...string) (*FFmpegSource, error) {
	// The process lives as long as the session, not the opening request
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &pipeline.CaptureError{Source: source, Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, &pipeline.CaptureError{Source: source, Err: fmt.Errorf("failed to create stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &pipeline.CaptureError{Source: source, Err: fmt.Errorf("failed to start %s: %w", name, err)}
	}

	s := &FFmpegSource{
		name:      source,
		decoder:   dec,
		dropStale: dropStale,
		cmd:       cmd,
		cancel:    cancel,
		frames:    make(chan frameItem, 1),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}

	stderrDone := make(chan struct{})
	go s.consumeStderr(stderr, stderrDone)
	go s.readLoop(stdout, stderrDone)

	log.Printf("[FFmpegSource] Started capture for %s (pid %d)", source, cmd.Process.Pid)
	return s, nil
}

func (s *FFmpegSource) consumeStderr(r io.Reader, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			s.stderrMu.Lock()
			s.stderrLast = line
			s.stderrMu.Unlock()
		}
	}
}

func (s *FFmpegSource) readLoop(stdout io.Reader, stderrDone <-chan struct{}) {
	defer close(s.exited)

	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	var readErr error
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			frameBuffer = append(frameBuffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&frameBuffer)
				if frame == nil {
					break
				}
				if !s.deliver(frame) {
					s.drain(stdout)
					<-stderrDone
					s.cmd.Wait()
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}

	<-stderrDone
	waitErr := s.cmd.Wait()

	select {
	case <-s.done:
		return
	default:
	}

	var terminal error
	switch {
	case waitErr != nil:
		s.stderrMu.Lock()
		detail := s.stderrLast
		s.stderrMu.Unlock()
		if detail != "" {
			waitErr = fmt.Errorf("%w: %s", waitErr, detail)
		}
		terminal = &pipeline.CaptureError{Source: s.name, Err: fmt.Errorf("ffmpeg exited: %w", waitErr)}
	case readErr != nil:
		terminal = &pipeline.CaptureError{Source: s.name, Err: fmt.Errorf("failed to read frame: %w", readErr)}
	default:
		terminal = pipeline.ErrEndOfStream
	}

	select {
	case s.frames <- frameItem{err: terminal}:
	case <-s.done:
	}
}

// deliver hands a frame to Next. Live sources replace a frame nobody has
// pulled yet so that a slow session always sees the newest picture.
// It returns false once the source is closed.
func (s *FFmpegSource) deliver(frame []byte) bool {
	if s.dropStale {
		select {
		case s.frames <- frameItem{data: frame}:
			return true
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}

	select {
	case s.frames <- frameItem{data: frame}:
		return true
	case <-s.done:
		return false
	}
}

func (s *FFmpegSource) drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}

// Next implements pipeline.FrameSource
func (s *FFmpegSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, pipeline.ErrSessionClosed
		case item := <-s.frames:
			if item.err != nil {
				return nil, item.err
			}

			s.seq++
			frame, err := newFrame(s.decoder, item.data, s.seq)
			if err != nil {
				log.Printf("[FFmpegSource] Dropping undecodable frame %d from %s: %v", s.seq, s.name, err)
				continue
			}
			return frame, nil
		}
	}
}

// Close stops ffmpeg and waits for it to exit
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		<-s.exited
		log.Printf("[FFmpegSource] Stopped capture for %s", s.name)
	})
	return nil
}

// Ensure FFmpegSource implements FrameSource
var _ pipeline.FrameSource = (*FFmpegSource)(nil)
