package chrome

import (
	"context"
	"fmt"
	"log"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"
)

// Options configures a browser launched for recording.
type Options struct {
	ExecPath string
	Headless bool
	Device   device.Info
}

// AllocatorOptions returns the exec allocator flags used for every
// recording browser.
func AllocatorOptions(execPath string, opts Options) []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("force-device-scale-factor", "1"),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-component-update", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("no-pings", true),
		chromedp.Flag("no-crash-upload", true),
		// Window size is left to device emulation.
		chromedp.UserAgent(opts.Device.UserAgent),
	)
}

// Browser is a running Chrome with one tab. Ctx is the chromedp context of
// that tab.
type Browser struct {
	Ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// Launch starts Chrome, opens a tab and applies the device emulation.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	execPath, err := GetChromePath(opts.ExecPath)
	if err != nil {
		return nil, err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, AllocatorOptions(execPath, opts)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Printf))
	b := &Browser{Ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

	log.Printf("🎭 Launching Chrome for recording: %s (%dx%d, headless=%t)",
		opts.Device.Name, opts.Device.Width, opts.Device.Height, opts.Headless)
	if err := chromedp.Run(tabCtx, chromedp.Emulate(opts.Device)); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return b, nil
}

// Close shuts the browser down, gracefully first.
func (b *Browser) Close() {
	if err := chromedp.Cancel(b.Ctx); err != nil {
		log.Printf("Closing recording browser: %v", err)
	}
	b.cancelTab()
	b.cancelAlloc()
}
