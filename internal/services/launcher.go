package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"

	"phantomrecorder/backend/internal/config"
	"phantomrecorder/backend/internal/recorder"
	"phantomrecorder/backend/internal/recorder/cdp"
	"phantomrecorder/backend/pkg/chrome"
)

// ChromeLauncher launches a Chrome tab per session and installs a recorder
// into every document the tab loads.
func ChromeLauncher(cfg *config.Config) Launcher {
	return func(ctx context.Context, s *Session, opts StartOptions) (func(), error) {
		dev, err := opts.Viewport.Resolve()
		if err != nil {
			return nil, err
		}

		browser, err := chrome.Launch(context.Background(), chrome.Options{
			ExecPath: cfg.Chrome.ExecPath,
			Headless: cfg.Chrome.HeadlessMode,
			Device:   dev,
		})
		if err != nil {
			return nil, err
		}

		var mu sync.Mutex
		var recorders []*recorder.Recorder
		install := func(surface *cdp.Surface) {
			rec := recorder.New(s,
				recorder.WithAckTimeout(cfg.Recorder.AckTimeout),
				recorder.WithFailurePolicy(cfg.Recorder.Policy()),
				recorder.WithErrorHandler(s.reportFailure),
			)
			ok, err := rec.Install(surface)
			if err != nil {
				s.logf("Installing recorder failed: %v", err)
				return
			}
			if !ok {
				return
			}
			mu.Lock()
			recorders = append(recorders, rec)
			mu.Unlock()
			s.logf("Recorder installed")
		}

		if _, err := cdp.Attach(browser.Ctx, install); err != nil {
			browser.Close()
			return nil, err
		}
		if err := chromedp.Run(browser.Ctx, chromedp.Navigate(opts.URL)); err != nil {
			browser.Close()
			return nil, fmt.Errorf("navigating to %s: %w", opts.URL, err)
		}

		detach := func() {
			mu.Lock()
			for _, rec := range recorders {
				rec.Close()
			}
			mu.Unlock()
			browser.Close()
		}
		return detach, nil
	}
}
