package playback

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/droneai/review-agent/internal/pipeline/pipelinetest"
)

func TestHub_NextWaitsForNewerFrame(t *testing.T) {
	h := NewHub()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.Publish(7, 0.25, img)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := h.Next(ctx, 0)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if f.Index != 7 || f.Seq != 1 {
		t.Errorf("frame = %+v, want index 7 seq 1", f)
	}
}

func TestHub_NextRespectsContext(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := h.Next(ctx, 0); err != context.DeadlineExceeded {
		t.Errorf("Next() error = %v, want deadline exceeded", err)
	}
}

func TestHub_PublishAfterCloseIgnored(t *testing.T) {
	h := NewHub()
	h.Close()
	h.Close()
	h.Publish(1, 0, image.NewRGBA(image.Rect(0, 0, 1, 1)))

	if _, ok := h.Latest(); ok {
		t.Error("publish after close should be ignored")
	}
}

func readParts(t *testing.T, resp *http.Response) int {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("parse content type: %v", err)
	}
	if mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("media type = %s", mediaType)
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	parts := 0
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart() error = %v", err)
		}
		data, _ := io.ReadAll(p)
		if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
			t.Fatalf("part %d is not a jpeg: %v", parts, err)
		}
		parts++
	}
	return parts
}

func TestWriteMJPEG_PreviewStream(t *testing.T) {
	ff := pipelinetest.New(200, 100)
	src, _ := ff.Open(context.Background(), "fake.mp4")
	defer src.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteMJPEG(w, r, 70, PreviewFrames(src, 5))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	if got := readParts(t, resp); got != 5 {
		t.Errorf("parts = %d, want 5", got)
	}
}

func TestWriteMJPEG_HubStreamEndsWithPlayback(t *testing.T) {
	ff := pipelinetest.New(100, 10)
	hub := NewHub()
	c := NewController(ControllerConfig{Open: fakeOpen(ff), Hub: hub, Realtime: true})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteMJPEG(w, r, 70, HubFrames(hub))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	go c.Run(context.Background())

	parts := readParts(t, resp)
	if parts < 1 || parts > 10 {
		t.Errorf("parts = %d, want between 1 and 10", parts)
	}
}
