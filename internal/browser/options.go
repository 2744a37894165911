package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/scout-cli/internal/config"
)

// launchFlag is a single Chrome command line switch. Keeping the flags as data
// lets tests inspect what will be passed to the allocator.
type launchFlag struct {
	name  string
	value interface{}
}

// baseFlags are applied to every browser regardless of configuration.
var baseFlags = []launchFlag{
	{"disable-gpu", true},
	{"no-sandbox", true},
	{"disable-dev-shm-usage", true},
	{"enable-automation", false},
	{"disable-blink-features", "AutomationControlled"},
	{"no-first-run", true},
	{"no-default-browser-check", true},
}

// launchFlags returns the switches for cfg. Later entries override earlier ones
// with the same name, so user supplied args always win.
func launchFlags(cfg config.BrowserConfig) []launchFlag {
	flags := make([]launchFlag, 0, len(baseFlags)+len(cfg.Args)+1)
	flags = append(flags, baseFlags...)
	flags = append(flags, launchFlag{"headless", cfg.Headless})
	if cfg.Headless {
		flags = append(flags, launchFlag{"hide-scrollbars", true}, launchFlag{"mute-audio", true})
	}
	for _, arg := range cfg.Args {
		if f, ok := parseArg(arg); ok {
			flags = append(flags, f)
		}
	}
	return flags
}

// parseArg turns "--name" or "--name=value" into a launch flag.
func parseArg(arg string) (launchFlag, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return launchFlag{}, false
	}
	name, value, found := strings.Cut(arg, "=")
	if !found {
		return launchFlag{name: name, value: true}, true
	}
	return launchFlag{name: name, value: value}, true
}

// DefaultAllocatorOptions builds the exec allocator options for one session
// browser. It starts from chromedp's defaults and layers the configured
// switches, binary, user agent and window size on top.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+16)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)

	for _, f := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if cfg.BinaryPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BinaryPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}
	return opts
}
