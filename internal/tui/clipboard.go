package tui

import (
	"github.com/atotto/clipboard"

	"github.com/andywolf/issue-assistant/internal/form"
)

// SystemClipboard writes to the OS clipboard (pbcopy, xclip/xsel,
// wl-copy or the Windows API).
type SystemClipboard struct{}

var _ form.Clipboard = SystemClipboard{}

func (SystemClipboard) WriteText(text string) error {
	return clipboard.WriteAll(text)
}

// ClipboardAvailable reports whether a clipboard backend was found.
func ClipboardAvailable() bool {
	return !clipboard.Unsupported
}
