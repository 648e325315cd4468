package progress

import (
	"github.com/schollz/progressbar/v3"
)

// Bar is a nil-safe wrapper around the terminal progress bar; a nil *Bar
// silently drops updates, which keeps quiet and test code paths free of
// conditionals.
type Bar struct {
	bar *progressbar.ProgressBar
}

func New(n int, description string) *Bar {
	return &Bar{bar: progressbar.NewOptions(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)}
}

func (b *Bar) Add(n int) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}
