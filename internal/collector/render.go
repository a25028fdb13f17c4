package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

const renderSelectorTimeout = 10 * time.Second

// loadRendered 用 headless Chrome 渲染需要执行 JS 的页面，返回渲染后的 <html> 节点。
// waitSelector 等待失败只记 warning，仍按当前 DOM 继续解析。
func (o Options) loadRendered(ctx context.Context, target, waitSelector string) (*goquery.Selection, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(o.userAgent()),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancel := context.WithTimeout(browserCtx, o.timeout())
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("render %s: %w", target, err)
	}

	if waitSelector != "" {
		waitCtx, cancelWait := context.WithTimeout(runCtx, renderSelectorTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
		cancelWait()
		if err != nil {
			o.logger().Warn("render selector not found", "url", target, "selector", waitSelector, "error", err)
		}
	}

	var page string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &page, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("render %s: read html: %w", target, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("render %s: parse html: %w", target, err)
	}
	return doc.Selection, nil
}
