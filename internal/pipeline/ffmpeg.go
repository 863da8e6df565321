package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// RealFFmpeg drives the ffprobe and ffmpeg binaries.
type RealFFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

func NewRealFFmpeg(ffmpegPath, ffprobePath string, logger *slog.Logger) *RealFFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &RealFFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *RealFFmpeg) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		path,
	)
	stderr := NewTailBuffer(maxStderrBytes)
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", filepath.Base(path), err, Truncate(stderr.String(), 512))
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*VideoInfo, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(po.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found")
	}
	s := po.Streams[0]

	fps := parseRate(s.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(s.RFrameRate)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("unknown frame rate %q", s.AvgFrameRate)
	}

	frames, _ := strconv.Atoi(s.NbFrames)
	if frames <= 0 {
		dur, err := strconv.ParseFloat(s.Duration, 64)
		if err != nil || dur <= 0 {
			dur, _ = strconv.ParseFloat(po.Format.Duration, 64)
		}
		frames = int(math.Round(dur * fps))
	}
	if frames <= 0 {
		return nil, fmt.Errorf("cannot determine frame count")
	}

	return &VideoInfo{FPS: fps, FrameCount: frames, Width: s.Width, Height: s.Height}, nil
}

func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func (f *RealFFmpeg) Open(ctx context.Context, path string) (FrameSource, error) {
	info, err := f.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	src := &decoder{ctx: ctx, bin: f.ffmpegPath, path: path, info: *info, logger: f.logger}
	if err := src.start(0); err != nil {
		return nil, err
	}
	return src, nil
}

// decoder streams raw RGBA frames from an ffmpeg subprocess. Seeking restarts
// the process at the target timestamp.
type decoder struct {
	ctx    context.Context
	bin    string
	path   string
	info   VideoInfo
	logger *slog.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	stderr *TailBuffer
	next   int
	closed bool
}

func (d *decoder) Info() VideoInfo {
	return d.info
}

func (d *decoder) start(frame int) error {
	ss := strconv.FormatFloat(float64(frame)/d.info.FPS, 'f', 6, 64)
	cmd := exec.CommandContext(d.ctx, d.bin,
		"-v", "error",
		"-ss", ss,
		"-i", d.path,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	)
	d.stderr = NewTailBuffer(maxStderrBytes)
	cmd.Stderr = d.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}

	d.cmd = cmd
	d.stdout = stdout
	d.reader = bufio.NewReaderSize(stdout, d.info.Width*d.info.Height*4)
	d.next = frame
	return nil
}

func (d *decoder) stop() {
	if d.cmd == nil {
		return
	}
	d.stdout.Close()
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.cmd.Wait()
	d.cmd = nil
}

func (d *decoder) Seek(frame int) error {
	if d.closed {
		return ErrNotOpen
	}
	if frame < 0 {
		frame = 0
	}
	if d.info.FrameCount > 0 && frame > d.info.FrameCount-1 {
		frame = d.info.FrameCount - 1
	}
	if frame == d.next && d.cmd != nil {
		return nil
	}
	d.stop()
	return d.start(frame)
}

func (d *decoder) Next() (*image.RGBA, int, error) {
	if d.closed {
		return nil, 0, ErrNotOpen
	}
	if d.cmd == nil || (d.info.FrameCount > 0 && d.next >= d.info.FrameCount) {
		return nil, 0, io.EOF
	}

	img := image.NewRGBA(image.Rect(0, 0, d.info.Width, d.info.Height))
	if _, err := io.ReadFull(d.reader, img.Pix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			waitErr := d.cmd.Wait()
			d.cmd = nil
			if waitErr != nil && d.ctx.Err() == nil {
				return nil, 0, fmt.Errorf("decode frame %d: %w: %s", d.next, waitErr, Truncate(d.stderr.String(), 512))
			}
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("decode frame %d: %w", d.next, err)
	}

	idx := d.next
	d.next++
	return img, idx, nil
}

func (d *decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.stop()
	return nil
}

func (f *RealFFmpeg) CreateClip(ctx context.Context, outPath string, info VideoInfo) (ClipWriter, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, fmt.Errorf("create clip dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-v", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-r", strconv.FormatFloat(info.FPS, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
		outPath,
	)
	stderr := NewTailBuffer(maxStderrBytes)
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	f.logger.Debug("clip encoder started", "output", filepath.Base(outPath))

	return &encoder{cmd: cmd, stdin: stdin, stderr: stderr, bounds: image.Rect(0, 0, info.Width, info.Height)}, nil
}

type encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *TailBuffer
	bounds image.Rectangle
	closed bool
}

func (e *encoder) WriteFrame(img image.Image) error {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Bounds() != e.bounds || rgba.Stride != e.bounds.Dx()*4 {
		rgba = image.NewRGBA(e.bounds)
		draw.Draw(rgba, e.bounds, img, img.Bounds().Min, draw.Src)
	}
	if _, err := e.stdin.Write(rgba.Pix); err != nil {
		return fmt.Errorf("write frame to encoder: %w", err)
	}
	return nil
}

func (e *encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder exited: %w: %s", err, Truncate(e.stderr.String(), 512))
	}
	return nil
}
