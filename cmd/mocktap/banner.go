package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/logger"
)

const minBoxWidth = 50

func printStartupBanner(cfg *config.Config, log logger.Logger) {
	titleLine := fmt.Sprintf("MockTap v%s", version)
	subtitleLine := "Mock HTTP Endpoint Server"

	base := fmt.Sprintf("http://%s", cfg.Server.Addr())
	lines := []string{
		fmt.Sprintf("🚀 Listening on:   %s", base),
		fmt.Sprintf("🎭 Mock Prefix:    %s/", cfg.Server.MockPrefix),
		fmt.Sprintf("🛠  Admin API:      %s", cfg.Server.AdminPath),
		fmt.Sprintf("📊 Log Level:      %s", cfg.Log.Level),
		"",
	}

	storageLine := fmt.Sprintf("💾 Storage:        %s", cfg.Storage.Driver)
	if cfg.Storage.Driver != "memory" {
		storageLine += fmt.Sprintf(" (%s)", cfg.Storage.Path)
	}
	lines = append(lines, storageLine)
	if cfg.Storage.SweepInterval > 0 {
		lines = append(lines, fmt.Sprintf("   └─ Sweep:       every %s, keep %d days", cfg.Storage.SweepInterval, cfg.Storage.RetentionDays))
	} else {
		lines = append(lines, "   └─ Sweep:       Disabled")
	}
	if cfg.Server.MaxBodyBytes > 0 {
		lines = append(lines, fmt.Sprintf("   └─ Max body:    %s", humanize.IBytes(uint64(cfg.Server.MaxBodyBytes))))
	}

	live := "Disabled"
	if cfg.Web.LiveEnable {
		live = fmt.Sprintf("Enabled (%s/ws)", cfg.Server.AdminPath)
	}
	lines = append(lines, fmt.Sprintf("📡 Live Stream:    %s", live))

	output := cfg.Output.Mode
	if cfg.Output.Silence {
		output = "silenced"
	}
	lines = append(lines, fmt.Sprintf("🖨  Hit Output:     %s", output))

	lines = append(lines, "")
	if cfg.Log.FileLogging.Enable {
		lines = append(lines, fmt.Sprintf("📝 File Logging:   %s", cfg.Log.FileLogging.Path))
	} else {
		lines = append(lines, "📝 File Logging:   Disabled")
	}
	lines = append(lines, "", "(Press Ctrl+C to stop)")

	renderBox(os.Stdout, titleLine, subtitleLine, lines)

	log.Info("MockTap starting",
		"version", version,
		"addr", cfg.Server.Addr(),
		"mock_prefix", cfg.Server.MockPrefix,
		"admin_path", cfg.Server.AdminPath,
		"storage_driver", cfg.Storage.Driver,
		"live_enable", cfg.Web.LiveEnable,
	)
}

// renderBox draws a frame around the lines, centring the title rows.
func renderBox(w io.Writer, title, subtitle string, lines []string) {
	width := runewidth.StringWidth(title)
	for _, line := range append([]string{subtitle}, lines...) {
		if lw := runewidth.StringWidth(line); lw > width {
			width = lw
		}
	}
	boxWidth := width + 4
	if boxWidth < minBoxWidth {
		boxWidth = minBoxWidth
	}
	inner := boxWidth - 2

	fmt.Fprintln(w)
	fmt.Fprintf(w, "┌%s┐\n", strings.Repeat("─", inner))
	fmt.Fprintf(w, "│%s│\n", center(title, inner))
	fmt.Fprintf(w, "│%s│\n", center(subtitle, inner))
	fmt.Fprintf(w, "├%s┤\n", strings.Repeat("─", inner))
	for _, line := range lines {
		fmt.Fprintf(w, "│  %s│\n", runewidth.FillRight(line, inner-2))
	}
	fmt.Fprintf(w, "└%s┘\n", strings.Repeat("─", inner))
	fmt.Fprintln(w)
}

func center(s string, width int) string {
	pad := width - runewidth.StringWidth(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}
