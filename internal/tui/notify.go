package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	log "github.com/sirupsen/logrus"

	"github.com/andywolf/issue-assistant/internal/form"
)

var logger = log.WithField("package", "tui")

// DialogNotifier shows each alert as a dialog the user dismisses with enter.
type DialogNotifier struct {
	Title string
}

var _ form.Notifier = (*DialogNotifier)(nil)

func (n *DialogNotifier) Alert(message string) {
	title := n.Title
	if title == "" {
		title = "Issue Assistant"
	}

	dialog := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(title).
				Description(message).
				Next(true).
				NextLabel("OK"),
		),
	)
	if err := dialog.Run(); err != nil {
		logger.WithError(err).Debug("Alert dialog closed")
	}
}

// WriterNotifier writes alerts to a stream, for non-interactive runs.
type WriterNotifier struct {
	W io.Writer
}

var _ form.Notifier = (*WriterNotifier)(nil)

func (n *WriterNotifier) Alert(message string) {
	fmt.Fprintln(n.W, message)
}
