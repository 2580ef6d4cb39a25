package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// stderrIsTerminal gates colorized output and progress display: piping
// stderr into a file or CI log gets plain text.
var stderrIsTerminal = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

var (
	errorPaint = color.New(color.FgRed, color.Bold)
	warnPaint  = color.New(color.FgYellow)
	infoPaint  = color.New(color.FgCyan)
)

func paintError(s string) string {
	if !stderrIsTerminal {
		return s
	}
	return errorPaint.Sprint(s)
}

func paintWarn(s string) string {
	if !stderrIsTerminal {
		return s
	}
	return warnPaint.Sprint(s)
}

func paintInfo(s string) string {
	if !stderrIsTerminal {
		return s
	}
	return infoPaint.Sprint(s)
}

// newProgressBar renders upload/download progress on stderr when it is a
// terminal and stays silent otherwise, so CI logs are not flooded with
// carriage returns.
func newProgressBar(total int, description string) *progressbar.ProgressBar {
	if !stderrIsTerminal {
		return progressbar.DefaultSilent(int64(total), description)
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionShowCount(),
	)
}
