package printer

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/request"
)

const (
	minWidth     = 40
	maxWidth     = 150
	defaultWidth = 80
)

// ColorScheme color scheme
type ColorScheme struct {
	MethodGET    *color.Color
	MethodPOST   *color.Color
	MethodPUT    *color.Color
	MethodDELETE *color.Color
	MethodPATCH  *color.Color
	HeaderKey    *color.Color
	HeaderValue  *color.Color
	Separator    *color.Color
	BodyContent  *color.Color
	BinaryNotice *color.Color
	RemoteAddr   *color.Color
	Query        *color.Color
	StatusOK     *color.Color
	StatusWarn   *color.Color
	StatusError  *color.Color
	Delay        *color.Color
	Notice       *color.Color
}

// NewColorScheme creates a new color scheme
func NewColorScheme() *ColorScheme {
	return &ColorScheme{
		MethodGET:    color.New(color.FgBlue, color.Bold),
		MethodPOST:   color.New(color.FgGreen, color.Bold),
		MethodPUT:    color.New(color.FgYellow, color.Bold),
		MethodDELETE: color.New(color.FgRed, color.Bold),
		MethodPATCH:  color.New(color.FgMagenta, color.Bold),
		HeaderKey:    color.New(color.FgCyan),
		HeaderValue:  color.New(color.FgWhite),
		Separator:    color.New(color.FgYellow, color.Bold),
		BodyContent:  color.New(color.FgWhite),
		BinaryNotice: color.New(color.FgHiRed, color.Bold),
		RemoteAddr:   color.New(color.FgHiBlue),
		Query:        color.New(color.FgHiMagenta),
		StatusOK:     color.New(color.FgGreen, color.Bold),
		StatusWarn:   color.New(color.FgYellow, color.Bold),
		StatusError:  color.New(color.FgRed, color.Bold),
		Delay:        color.New(color.FgHiBlack),
		Notice:       color.New(color.FgHiYellow),
	}
}

// ConsolePrinter writes a human readable block per hit.
type ConsolePrinter struct {
	colorScheme *ColorScheme
	formatter   *bodyFormatter
	logger      logger.Logger
	out         io.Writer
	mu          sync.Mutex
}

// NewConsolePrinter creates a new console printer
func NewConsolePrinter(log logger.Logger) *ConsolePrinter {
	return &ConsolePrinter{
		colorScheme: NewColorScheme(),
		formatter:   newBodyFormatter(log),
		logger:      log,
		out:         color.Output,
	}
}

// getTerminalWidth gets the current terminal width with fallback
func (p *ConsolePrinter) getTerminalWidth() int {
	if testWidth := os.Getenv("MOCKTAP_TEST_WIDTH"); testWidth != "" {
		if width, err := strconv.Atoi(testWidth); err == nil {
			return clampWidth(width)
		}
	}

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return defaultWidth
	}
	return clampWidth(width)
}

func clampWidth(width int) int {
	switch {
	case width < minWidth:
		return minWidth
	case width > maxWidth:
		return maxWidth
	default:
		return width
	}
}

// wrapText wraps text to fit within the specified width, preserving words
func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{text}
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	currentLine := words[0]
	currentWidth := utf8.RuneCountInString(currentLine)

	for _, word := range words[1:] {
		wordWidth := utf8.RuneCountInString(word)
		if currentWidth+1+wordWidth > maxWidth {
			lines = append(lines, currentLine)
			currentLine = word
			currentWidth = wordWidth
			continue
		}
		currentLine += " " + word
		currentWidth += 1 + wordWidth
	}
	return append(lines, currentLine)
}

// PrintHit prints the matched request in raw HTTP layout, preceded by a
// summary of the mock that answered it.
func (p *ConsolePrinter) PrintHit(hit *request.Hit) error {
	if hit == nil || hit.Request == nil {
		return nil
	}
	data := hit.Request
	hitNum := nextHitNumber()
	width := p.getTerminalWidth()

	p.mu.Lock()
	defer p.mu.Unlock()

	separator := strings.Repeat("-", width)
	p.colorScheme.Separator.Fprintln(p.out, separator)
	p.colorScheme.Separator.Fprintf(p.out, "Hit #%d  %s\n", hitNum, data.Timestamp.Format("2006-01-02T15:04:05-07:00"))
	p.printMockLine(hit)
	p.printMetadataLine(data)
	p.colorScheme.Separator.Fprintln(p.out, separator)
	fmt.Fprintln(p.out)

	p.printRequestLine(data)
	p.printHeaders(data.Headers, width)
	fmt.Fprintln(p.out)
	p.printBody(data)
	fmt.Fprintln(p.out)

	return nil
}

func (p *ConsolePrinter) printMockLine(hit *request.Hit) {
	if hit.Entry != nil && hit.Entry.EndpointID != "" {
		fmt.Fprintf(p.out, "Endpoint: %s | ", hit.Entry.EndpointID)
	}
	fmt.Fprint(p.out, "Status: ")
	p.statusColor(hit.StatusCode).Fprintf(p.out, "%d %s", hit.StatusCode, http.StatusText(hit.StatusCode))
	if hit.DelayMs > 0 {
		fmt.Fprint(p.out, " | Delay: ")
		p.colorScheme.Delay.Fprintf(p.out, "%dms", hit.DelayMs)
	}
	fmt.Fprintln(p.out)
}

func (p *ConsolePrinter) printMetadataLine(data *request.RequestData) {
	first := true
	addSep := func() {
		if first {
			first = false
			return
		}
		fmt.Fprint(p.out, " | ")
	}

	if data.RemoteAddr != "" {
		addSep()
		fmt.Fprint(p.out, "Remote: ")
		p.colorScheme.RemoteAddr.Fprint(p.out, data.RemoteAddr)
	}

	if data.UserAgent != "" {
		addSep()
		fmt.Fprint(p.out, "UA: ")
		p.colorScheme.BodyContent.Fprint(p.out, data.UserAgent)
	}

	if data.ContentType != "" {
		addSep()
		fmt.Fprint(p.out, "Content-Type: ")
		p.colorScheme.HeaderValue.Fprint(p.out, data.ContentType)
	}

	addSep()
	fmt.Fprint(p.out, "Size: ")
	p.colorScheme.BodyContent.Fprint(p.out, humanize.Bytes(uint64(len(data.Body))))
	fmt.Fprintln(p.out)
}

func (p *ConsolePrinter) printRequestLine(data *request.RequestData) {
	method := strings.ToUpper(data.Method)
	path := data.Path
	if path == "" {
		path = "/"
	}
	proto := data.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}

	p.methodColor(method).Fprintf(p.out, "%s ", method)
	fmt.Fprint(p.out, path)
	if data.Query != "" {
		fmt.Fprint(p.out, "?")
		p.colorScheme.Query.Fprint(p.out, data.Query)
	}
	fmt.Fprintf(p.out, " %s\n", proto)
}

func (p *ConsolePrinter) printHeaders(headers http.Header, width int) {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		if skipHeaders[strings.ToLower(key)] {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := strings.Join(headers[key], ", ")
		if sensitiveHeaders[strings.ToLower(key)] {
			value = "[REDACTED]"
		}
		p.printHeaderLine(key, value, width)
	}
}

func (p *ConsolePrinter) printHeaderLine(key, value string, width int) {
	prefix := key + ": "
	available := width - utf8.RuneCountInString(prefix)
	if available < 20 {
		available = 20
	}

	wrapped := wrapText(value, available)
	p.colorScheme.HeaderKey.Fprint(p.out, prefix)
	p.colorScheme.HeaderValue.Fprintln(p.out, wrapped[0])

	indent := strings.Repeat(" ", utf8.RuneCountInString(prefix))
	for _, line := range wrapped[1:] {
		fmt.Fprint(p.out, indent)
		p.colorScheme.HeaderValue.Fprintln(p.out, line)
	}
}

func (p *ConsolePrinter) printBody(data *request.RequestData) {
	bodySize := humanize.Bytes(uint64(len(data.Body)))

	if len(data.Body) == 0 {
		p.colorScheme.BodyContent.Fprintf(p.out, "[Empty Body - %s]\n", bodySize)
		return
	}
	if data.IsBinary {
		p.colorScheme.BinaryNotice.Fprintf(p.out, "[Binary Body: %s, %s. Content skipped.]\n", data.ContentType, bodySize)
		return
	}

	formatted := p.formatter.Format(data)
	for _, notice := range formatted.Notices {
		p.colorScheme.Notice.Fprintf(p.out, "[%s]\n", notice)
	}
	for _, line := range strings.Split(strings.TrimRight(formatted.Text, "\n"), "\n") {
		p.colorScheme.BodyContent.Fprintln(p.out, strings.TrimRight(line, "\r"))
	}
}

func (p *ConsolePrinter) methodColor(method string) *color.Color {
	switch method {
	case http.MethodGet:
		return p.colorScheme.MethodGET
	case http.MethodPost:
		return p.colorScheme.MethodPOST
	case http.MethodPut:
		return p.colorScheme.MethodPUT
	case http.MethodDelete:
		return p.colorScheme.MethodDELETE
	case http.MethodPatch:
		return p.colorScheme.MethodPATCH
	default:
		return color.New(color.FgWhite, color.Bold)
	}
}

func (p *ConsolePrinter) statusColor(status int) *color.Color {
	switch {
	case status >= 500:
		return p.colorScheme.StatusError
	case status >= 400:
		return p.colorScheme.StatusWarn
	default:
		return p.colorScheme.StatusOK
	}
}

var sensitiveHeaders = map[string]bool{
	"authorization":   true,
	"cookie":          true,
	"set-cookie":      true,
	"x-api-key":       true,
	"x-auth-token":    true,
	"x-csrf-token":    true,
	"x-session-token": true,
}

// hop-by-hop headers are not worth showing
var skipHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"te":                true,
	"trailer":           true,
	"transfer-encoding": true,
	"upgrade":           true,
}
