package pipeline

import (
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantFPS    float64
		wantFrames int
		wantErr    bool
	}{
		{
			name:       "nb_frames present",
			input:      `{"streams":[{"width":640,"height":360,"avg_frame_rate":"30/1","r_frame_rate":"30/1","nb_frames":"3000"}],"format":{"duration":"100.0"}}`,
			wantFPS:    30,
			wantFrames: 3000,
		},
		{
			name:       "ntsc rate from duration",
			input:      `{"streams":[{"width":640,"height":360,"avg_frame_rate":"30000/1001","duration":"10.010"}],"format":{}}`,
			wantFPS:    30000.0 / 1001.0,
			wantFrames: 300,
		},
		{
			name:       "fallback to r_frame_rate and format duration",
			input:      `{"streams":[{"width":8,"height":8,"avg_frame_rate":"0/0","r_frame_rate":"25/1"}],"format":{"duration":"4"}}`,
			wantFPS:    25,
			wantFrames: 100,
		},
		{
			name:    "no streams",
			input:   `{"streams":[],"format":{}}`,
			wantErr: true,
		},
		{
			name:    "no frame rate",
			input:   `{"streams":[{"avg_frame_rate":"0/0","r_frame_rate":"0/0"}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseProbe([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseProbe() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if info.FPS != tt.wantFPS {
				t.Errorf("FPS = %v, want %v", info.FPS, tt.wantFPS)
			}
			if info.FrameCount != tt.wantFrames {
				t.Errorf("FrameCount = %d, want %d", info.FrameCount, tt.wantFrames)
			}
		})
	}
}

func TestVideoInfo_FrameAt(t *testing.T) {
	info := VideoInfo{FPS: 30, FrameCount: 3000}

	if got := info.FrameAt(17); got != 510 {
		t.Errorf("FrameAt(17) = %d, want 510", got)
	}
	if got := info.FrameAt(-3); got != 0 {
		t.Errorf("FrameAt(-3) = %d, want 0", got)
	}
	if got := info.FrameAt(500); got != 2999 {
		t.Errorf("FrameAt(500) = %d, want 2999", got)
	}
	if got := info.Duration(); got != 100 {
		t.Errorf("Duration() = %v, want 100", got)
	}
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	tb := NewTailBuffer(8)
	tb.Write([]byte("0123456789"))
	tb.Write([]byte("abc"))

	if got := tb.String(); got != "56789abc" {
		t.Errorf("String() = %q, want %q", got, "56789abc")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate(strings.Repeat("x", 20)+"end", 3); got != "...end" {
		t.Errorf("Truncate() = %q, want ...end", got)
	}
}

func TestSaveJPEG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "frame.jpg")

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	if err := SaveJPEG(path, img, 80); err != nil {
		t.Fatalf("SaveJPEG() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open written image: %v", err)
	}
	defer f.Close()

	decoded, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("decode written image: %v", err)
	}
	if decoded.Bounds().Dx() != 16 {
		t.Errorf("width = %d, want 16", decoded.Bounds().Dx())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the final image in dir, got %d entries", len(entries))
	}
}
