// Package panel drives a remote page target through a cdp.Conn: navigation,
// viewport metrics, screencast frames and the title/history bookkeeping a
// preview surface needs. It is a pure consumer of the connection contract;
// every payload shape lives here, never in the core.
package panel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/previewpanel/cdp"
)

// Viewport describes the emulated device metrics of the page target.
type Viewport struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor"`
}

// ScreencastOptions selects the frame stream's encoding and bounds.
type ScreencastOptions struct {
	Format    string `json:"format"`
	MaxWidth  int    `json:"maxWidth"`
	MaxHeight int    `json:"maxHeight"`
}

// HistoryEntry is one entry of the target's navigation history.
type HistoryEntry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// History is a snapshot of the target's navigation history.
type History struct {
	CurrentIndex int            `json:"currentIndex"`
	Entries      []HistoryEntry `json:"entries"`
}

// Frame is one streamed screencast image. Data is the base64-encoded image in
// the format requested at StartScreencast.
type Frame struct {
	SessionID int             `json:"sessionId"`
	Data      string          `json:"data"`
	Metadata  json.RawMessage `json:"metadata"`
}

// FrameFunc receives every acknowledged screencast frame.
type FrameFunc func(Frame)

// Option configures a Panel.
type Option func(*Panel)

// WithFrameSink sets the consumer of streamed screencast frames.
func WithFrameSink(fn FrameFunc) Option {
	return func(p *Panel) {
		p.frameFn = fn
	}
}

// WithTitleSink sets a callback fired whenever the page title changes.
func WithTitleSink(fn func(title string)) Option {
	return func(p *Panel) {
		p.titleFn = fn
	}
}

// Panel owns the preview-side state of one page target and reacts to its
// events. Event handlers that need a round trip run it on their own goroutine:
// the connection delivers events from its receiver loop, and a blocking call
// from inside a handler would wait on that same loop.
type Panel struct {
	conn    cdp.Connection
	log     *slog.Logger
	frameFn FrameFunc
	titleFn func(string)

	mu      sync.Mutex
	history History
	title   string

	offs []func()
}

// New attaches a Panel to the connection. The logger defaults to
// slog.Default() when nil. Detach removes the registered event handlers.
func New(conn cdp.Connection, log *slog.Logger, opts ...Option) *Panel {
	if log == nil {
		log = slog.Default()
	}

	p := &Panel{conn: conn, log: log}
	for _, opt := range opts {
		opt(p)
	}

	p.offs = append(p.offs,
		conn.On("Page.frameNavigated", p.onFrameNavigated),
		conn.On("Page.loadEventFired", p.onLoadEventFired),
		conn.On("Page.screencastFrame", p.onScreencastFrame),
		conn.On("Page.windowOpen", p.onWindowOpen),
		conn.On("extension.appConfiguration", p.onAppConfiguration),
	)

	return p
}

// Detach unregisters the panel's event handlers. The connection stays open.
func (p *Panel) Detach() {
	for _, off := range p.offs {
		off()
	}
	p.offs = nil
}

// Enable turns on page-domain events for the target.
func (p *Panel) Enable(ctx context.Context) error {
	_, err := p.conn.Call(ctx, "Page.enable", nil)
	return err
}

// Navigate points the target at url.
func (p *Panel) Navigate(ctx context.Context, url string) error {
	_, err := p.conn.Call(ctx, "Page.navigate", map[string]string{"url": url})
	return err
}

// Reload reloads the current page.
func (p *Panel) Reload(ctx context.Context) error {
	_, err := p.conn.Call(ctx, "Page.reload", nil)
	return err
}

// GoBack steps one entry back in the target's history.
func (p *Panel) GoBack(ctx context.Context) error {
	_, err := p.conn.Call(ctx, "Page.goBackward", nil)
	return err
}

// GoForward steps one entry forward in the target's history.
func (p *Panel) GoForward(ctx context.Context) error {
	_, err := p.conn.Call(ctx, "Page.goForward", nil)
	return err
}

// SetViewport applies emulated device metrics, e.g. after the user resized
// the preview surface.
func (p *Panel) SetViewport(ctx context.Context, v Viewport) error {
	_, err := p.conn.Call(ctx, "Page.setDeviceMetricsOverride", map[string]any{
		"width":             v.Width,
		"height":            v.Height,
		"deviceScaleFactor": v.DeviceScaleFactor,
		"mobile":            false,
	})
	return err
}

// StartScreencast begins the frame stream. Every received frame is passed to
// the frame sink and acknowledged.
func (p *Panel) StartScreencast(ctx context.Context, o ScreencastOptions) error {
	_, err := p.conn.Call(ctx, "Page.startScreencast", o)
	return err
}

// StopScreencast stops the frame stream.
func (p *Panel) StopScreencast(ctx context.Context) error {
	_, err := p.conn.Call(ctx, "Page.stopScreencast", nil)
	return err
}

// History returns the last navigation-history snapshot.
func (p *Panel) History() History {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := make([]HistoryEntry, len(p.history.Entries))
	copy(entries, p.history.Entries)
	return History{CurrentIndex: p.history.CurrentIndex, Entries: entries}
}

// Title returns the current page title.
func (p *Panel) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

// CanGoBack reports whether a back navigation is possible.
func (p *Panel) CanGoBack() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.CurrentIndex > 0
}

// CanGoForward reports whether a forward navigation is possible.
func (p *Panel) CanGoForward() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.CurrentIndex < len(p.history.Entries)-1
}

func (p *Panel) onFrameNavigated(params json.RawMessage) {
	var ev struct {
		Frame struct {
			ParentID string `json:"parentId"`
		} `json:"frame"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		p.log.Warn("bad frameNavigated payload", slog.String("error", err.Error()))
		return
	}
	if ev.Frame.ParentID != "" {
		// Subframe navigation, no toolbar-visible change.
		return
	}
	go p.refreshState(context.Background())
}

func (p *Panel) onLoadEventFired(json.RawMessage) {
	go p.refreshState(context.Background())
}

func (p *Panel) onScreencastFrame(params json.RawMessage) {
	var frame Frame
	if err := json.Unmarshal(params, &frame); err != nil {
		p.log.Warn("bad screencastFrame payload", slog.String("error", err.Error()))
		return
	}

	if p.frameFn != nil {
		p.frameFn(frame)
	}

	// Unacknowledged frames stall the stream.
	if _, err := p.conn.Send(context.Background(), "Page.screencastFrameAck", map[string]int{"sessionId": frame.SessionID}); err != nil {
		p.log.Warn("screencast ack failed", slog.String("error", err.Error()))
	}
}

func (p *Panel) onWindowOpen(params json.RawMessage) {
	var ev struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		p.log.Warn("bad windowOpen payload", slog.String("error", err.Error()))
		return
	}
	p.log.Info("window open requested", slog.String("url", ev.URL))
	if _, err := p.conn.Send(context.Background(), "extension.windowOpenRequested", map[string]string{"url": ev.URL}); err != nil {
		p.log.Warn("windowOpenRequested failed", slog.String("error", err.Error()))
	}
}

func (p *Panel) onAppConfiguration(params json.RawMessage) {
	var ev struct {
		Settings struct {
			StartURL *string `json:"startUrl"`
			Verbose  *bool   `json:"verbose"`
		} `json:"settings"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		p.log.Warn("bad appConfiguration payload", slog.String("error", err.Error()))
		return
	}

	if ev.Settings.Verbose != nil {
		p.conn.SetVerbose(*ev.Settings.Verbose)
	}
	if ev.Settings.StartURL != nil {
		url := *ev.Settings.StartURL
		go func() {
			if err := p.Navigate(context.Background(), url); err != nil {
				p.log.Warn("start-url navigation failed",
					slog.String("url", url),
					slog.String("error", err.Error()))
			}
		}()
	}
}

// refreshState re-reads the navigation history and pushes the current title
// out to the embedder.
func (p *Panel) refreshState(ctx context.Context) {
	raw, err := p.conn.Call(ctx, "Page.getNavigationHistory", nil)
	if err != nil {
		p.log.Warn("navigation history fetch failed", slog.String("error", err.Error()))
		return
	}

	var hist History
	if err := json.Unmarshal(raw, &hist); err != nil {
		p.log.Warn("bad navigation history payload", slog.String("error", err.Error()))
		return
	}

	title := ""
	if hist.CurrentIndex >= 0 && hist.CurrentIndex < len(hist.Entries) {
		entry := hist.Entries[hist.CurrentIndex]
		title = entry.Title
		if title == "" {
			title = entry.URL
		}
	}

	p.mu.Lock()
	p.history = hist
	p.title = title
	titleFn := p.titleFn
	p.mu.Unlock()

	if _, err := p.conn.Send(ctx, "extension.updateTitle", map[string]string{"title": title}); err != nil {
		p.log.Warn("title update failed", slog.String("error", err.Error()))
	}
	if titleFn != nil {
		titleFn(title)
	}
}
