package browser

import "context"

// CombineContext derives a context from ctx1 that is also canceled when ctx2
// is. Values come from ctx1 only, so chromedp actions run with it still find
// the browser target while honouring the caller's deadline from ctx2.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)
	stop := context.AfterFunc(ctx2, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
