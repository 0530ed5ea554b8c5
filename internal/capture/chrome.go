package capture

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/chromedp/chromedp"
)

// chromeShoot starts a dedicated Chrome process, logs in and grabs a
// full-page PNG. The deferred cancels tear the process down on every path.
func chromeShoot(ctx context.Context, s Settings) ([]byte, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(s)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx := browserCtx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(browserCtx, s.Timeout)
		defer cancel()
	}

	userSel := nameSelector(s.UsernameField)
	passSel := nameSelector(s.PasswordField)

	var buf []byte
	err := chromedp.Run(runCtx,
		chromedp.Navigate(s.URL),
		chromedp.WaitVisible(userSel, chromedp.ByQuery),
		chromedp.SendKeys(userSel, s.Username, chromedp.ByQuery),
		chromedp.SendKeys(passSel, s.Password, chromedp.ByQuery),
		chromedp.Click(s.SubmitSelector, chromedp.BySearch),
		chromedp.Sleep(s.Settle),
		// quality 100 => PNG
		chromedp.FullScreenshot(&buf, 100),
	)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func allocatorOptions(s Settings) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", s.Headless),
		chromedp.WindowSize(s.WindowWidth, s.WindowHeight),
	)
	if s.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.ExecPath))
	}
	for _, name := range sortedFlagNames(s.Flags) {
		opts = append(opts, chromedp.Flag(name, flagValue(s.Flags[name])))
	}
	return opts
}

func nameSelector(name string) string {
	return fmt.Sprintf(`[name=%s]`, strconv.Quote(name))
}

// flagValue maps config values to what chromedp.Flag understands: bools and strings.
func flagValue(v any) any {
	switch x := v.(type) {
	case bool, string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func sortedFlagNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
