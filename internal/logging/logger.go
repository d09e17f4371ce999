package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const Version = "2.0.0"

type Options struct {
	Level string
	// Background forces JSON output and suppresses the console banner.
	Background bool
	Out        *os.File
}

// Interactive reports whether console chrome should be shown.
func (o Options) Interactive() bool {
	out := o.out()
	return !o.Background && term.IsTerminal(int(out.Fd()))
}

func (o Options) out() *os.File {
	if o.Out != nil {
		return o.Out
	}
	return os.Stdout
}

func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(parseLevel(opts.Level))

	var w io.Writer = opts.out()
	if opts.Interactive() {
		w = zerolog.ConsoleWriter{Out: opts.out(), TimeFormat: "02/01/2006 15:04:05"}
	}
	return zerolog.New(w).With().Timestamp().Str("service", "rpimash").Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

var (
	bannerTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	bannerBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 2)
)

// Banner renders the startup header shown in interactive mode.
func Banner() string {
	title := bannerTitle.Render("RPIMash")
	body := fmt.Sprintf("%s  v%s\nwireless credential rotation & device status", title, Version)
	return bannerBox.Render(body)
}

// PrintBanner writes the banner when running interactively.
func PrintBanner(opts Options) {
	if !opts.Interactive() {
		return
	}
	fmt.Fprintln(opts.out(), Banner())
}
