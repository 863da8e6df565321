package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/droneai/review-agent/internal/review"
)

const statusRefresh = time.Second

type Tray struct {
	manager *review.Manager
	logger  *slog.Logger

	statusItem   *systray.MenuItem
	progressItem *systray.MenuItem
	pauseItem    *systray.MenuItem
	saveItem     *systray.MenuItem

	mu sync.Mutex

	onQuit func()
	stop   chan struct{}
}

type TrayConfig struct {
	Manager *review.Manager
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		manager: cfg.Manager,
		logger:  cfg.Logger,
		onQuit:  cfg.OnQuit,
		stop:    make(chan struct{}),
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Review")
	systray.SetTooltip("Drone Review Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current review status")
	t.statusItem.Disable()

	t.progressItem = systray.AddMenuItem("No session", "Active session progress")
	t.progressItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause playback")
	t.saveItem = systray.AddMenuItem("Save for later", "Save the session and stop playback")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Review Agent")

	go t.refreshLoop()

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-t.saveItem.ClickedCh:
				t.saveForLater()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.refresh()
		case <-t.stop:
			return
		}
	}
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.manager.Active()
	if err != nil {
		t.statusItem.SetTitle("Status: Idle")
		t.progressItem.SetTitle("No session")
		t.pauseItem.Disable()
		t.saveItem.Disable()
		return
	}

	st := a.Status()
	t.statusItem.SetTitle("Status: " + describe(st))
	t.progressItem.SetTitle(progressLine(st))
	if st.Finalizing || st.Ended {
		t.pauseItem.Disable()
	} else {
		t.pauseItem.Enable()
	}
	if st.Finalizing {
		t.saveItem.Disable()
	} else {
		t.saveItem.Enable()
	}
	if st.Paused {
		t.pauseItem.SetTitle("Resume")
	} else {
		t.pauseItem.SetTitle("Pause")
	}
}

func describe(st review.Status) string {
	switch {
	case st.Finalizing:
		return fmt.Sprintf("Finalizing (%d/%d)", st.Extraction.Current, st.Extraction.Total)
	case st.Ended:
		return "Ended"
	case st.Paused:
		return "Paused"
	default:
		return "Reviewing"
	}
}

func progressLine(st review.Status) string {
	subject := st.Subject
	if subject == "" {
		subject = st.SessionID
		if len(subject) > 8 {
			subject = subject[:8]
		}
	}
	if st.Mode.Discrete() {
		return fmt.Sprintf("%s: %.0f%%, %d events", subject, st.Progress, st.Events)
	}
	return fmt.Sprintf("%s: %.0f%%, %d frames labeled", subject, st.Progress, st.LabeledFrames)
}

func (t *Tray) togglePause() {
	a, err := t.manager.Active()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	paused, err := a.TogglePause(ctx)
	if err != nil {
		t.logger.Warn("toggle pause failed", "error", err)
		return
	}
	t.mu.Lock()
	if paused {
		t.pauseItem.SetTitle("Resume")
	} else {
		t.pauseItem.SetTitle("Pause")
	}
	t.mu.Unlock()
}

func (t *Tray) saveForLater() {
	a, err := t.manager.Active()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := a.Finalize(ctx, review.Partial)
	if err != nil {
		t.logger.Error("save for later failed", "error", err)
		return
	}
	t.logger.Info("session saved from tray", "session_id", res.SessionID, "metadata", res.MetadataPath)
	t.refresh()
}

func (t *Tray) UpdateStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle("Status: " + status)
}

func (t *Tray) Quit() {
	systray.Quit()
}
