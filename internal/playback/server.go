package playback

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/droneai/review-agent/internal/pipeline"
)

const boundary = "frame"

// FrameFunc returns the next image to stream. Returning ErrStreamClosed or
// io.EOF ends the stream cleanly.
type FrameFunc func(ctx context.Context) (image.Image, error)

// WriteMJPEG streams frames as multipart/x-mixed-replace JPEG parts until
// next reports the end or the client goes away.
func WriteMJPEG(w http.ResponseWriter, r *http.Request, quality int, next FrameFunc) (int, error) {
	if quality <= 0 || quality > 100 {
		quality = pipeline.DefaultJPEGQuality
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return 0, err
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	rc.Flush()
	ctx := r.Context()
	sent := 0

	for {
		img, err := next(ctx)
		if err != nil {
			if errors.Is(err, ErrStreamClosed) || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				mw.Close()
				return sent, nil
			}
			return sent, err
		}

		part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
		if err != nil {
			return sent, fmt.Errorf("create part: %w", err)
		}
		if err := jpeg.Encode(part, img, &jpeg.Options{Quality: quality}); err != nil {
			return sent, fmt.Errorf("encode frame: %w", err)
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return sent, err
		}
		sent++
	}
}

// HubFrames pulls successive frames from h.
func HubFrames(h *Hub) FrameFunc {
	var seq uint64
	return func(ctx context.Context) (image.Image, error) {
		f, err := h.Next(ctx, seq)
		if err != nil {
			return nil, err
		}
		seq = f.Seq
		return f.Image, nil
	}
}

// PreviewFrames reads up to maxFrames from src paced at the source rate.
// The caller closes src.
func PreviewFrames(src pipeline.FrameSource, maxFrames int) FrameFunc {
	info := src.Info()
	interval := time.Second / 30
	if info.FPS > 0 {
		interval = time.Duration(float64(time.Second) / info.FPS)
	}
	served := 0
	var last time.Time
	return func(ctx context.Context) (image.Image, error) {
		if served >= maxFrames {
			return nil, ErrStreamClosed
		}
		if !last.IsZero() {
			wait := interval - time.Since(last)
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
		img, _, err := src.Next()
		if err != nil {
			return nil, err
		}
		last = time.Now()
		served++
		return img, nil
	}
}
