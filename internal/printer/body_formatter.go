package printer

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net/url"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	nethtml "golang.org/x/net/html"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/request"
)

// defaultMaxIndentBytes is the largest JSON body that gets re-indented.
const defaultMaxIndentBytes = 64 * 1024

type bodyFormatter struct {
	logger         logger.Logger
	maxIndentBytes int
}

type formattedBody struct {
	Text    string
	Notices []string
}

func newBodyFormatter(log logger.Logger) *bodyFormatter {
	return &bodyFormatter{logger: log, maxIndentBytes: defaultMaxIndentBytes}
}

// Format renders a request body for the console. Bodies that are not
// recognised, or fail to parse, are returned unchanged.
func (f *bodyFormatter) Format(data *request.RequestData) formattedBody {
	if data == nil || len(data.Body) == 0 {
		return formattedBody{}
	}
	body := data.Body
	mediaType := normalizeMediaType(data.ContentType)
	if res, ok := f.formatJSON(mediaType, body); ok {
		return res
	}
	if res, ok := f.formatForm(mediaType, body); ok {
		return res
	}
	if res, ok := f.formatXML(mediaType, body); ok {
		return res
	}
	if res, ok := f.formatHTML(mediaType, body); ok {
		return res
	}
	return formattedBody{Text: string(body)}
}

func (f *bodyFormatter) formatJSON(mediaType string, body []byte) (formattedBody, bool) {
	if !looksLikeJSON(mediaType, body) {
		return formattedBody{}, false
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return formattedBody{}, false
	}
	if f.maxIndentBytes > 0 && len(trimmed) > f.maxIndentBytes {
		notice := fmt.Sprintf("JSON body larger than %s, shown as received", humanize.Bytes(uint64(f.maxIndentBytes)))
		return formattedBody{Text: string(body), Notices: []string{notice}}, true
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		f.debug("json indent failed", err)
		return formattedBody{}, false
	}
	return formattedBody{Text: buf.String()}, true
}

func (f *bodyFormatter) formatForm(mediaType string, body []byte) (formattedBody, bool) {
	if mediaType != "application/x-www-form-urlencoded" {
		return formattedBody{}, false
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		f.debug("form parse failed", err)
		return formattedBody{}, false
	}
	if len(values) == 0 {
		return formattedBody{Text: string(body)}, true
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keyWidth := runewidth.StringWidth("Key")
	for _, key := range keys {
		if w := runewidth.StringWidth(key); w > keyWidth {
			keyWidth = w
		}
	}
	var builder strings.Builder
	builder.WriteString("Form data:\n")
	fmt.Fprintf(&builder, "%s │ %s\n", runewidth.FillRight("Key", keyWidth), "Value")
	builder.WriteString(strings.Repeat("─", keyWidth) + "─┼" + strings.Repeat("─", 40) + "\n")
	for _, key := range keys {
		fmt.Fprintf(&builder, "%s │ %s\n", runewidth.FillRight(key, keyWidth), strings.Join(values[key], ", "))
	}
	return formattedBody{Text: builder.String()}, true
}

func (f *bodyFormatter) formatXML(mediaType string, body []byte) (formattedBody, bool) {
	if !strings.Contains(mediaType, "xml") {
		return formattedBody{}, false
	}
	processed := stripControlBytes(body)
	formatted, err := prettyXML(processed)
	if err != nil {
		f.debug("xml pretty failed", err)
		return formattedBody{Text: string(processed)}, true
	}
	return formattedBody{Text: formatted}, true
}

func (f *bodyFormatter) formatHTML(mediaType string, body []byte) (formattedBody, bool) {
	if !strings.Contains(mediaType, "html") && !looksLikeHTML(body) {
		return formattedBody{}, false
	}
	processed := stripControlBytes(body)
	formatted, err := prettyHTML(processed)
	if err != nil {
		f.debug("html pretty failed", err)
		return formattedBody{Text: string(processed)}, true
	}
	return formattedBody{Text: formatted}, true
}

func (f *bodyFormatter) debug(msg string, err error) {
	if f.logger != nil {
		f.logger.Debug(msg, "error", err)
	}
}

func normalizeMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(mediaType)
}

func looksLikeJSON(mediaType string, body []byte) bool {
	if strings.Contains(mediaType, "json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	first := trimmed[0]
	last := trimmed[len(trimmed)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 5 {
		return false
	}
	prefix := strings.ToLower(string(trimmed[:5]))
	return strings.HasPrefix(prefix, "<html") || strings.HasPrefix(prefix, "<!doc")
}

func stripControlBytes(b []byte) []byte {
	buf := make([]byte, 0, len(b))
	for _, ch := range b {
		if ch < 0x20 && ch != '\n' && ch != '\r' && ch != '\t' {
			continue
		}
		buf = append(buf, ch)
	}
	return buf
}

func prettyXML(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var buf bytes.Buffer
	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		// whitespace between elements is replaced by the encoder's indent
		if cd, ok := token.(xml.CharData); ok && len(bytes.TrimSpace(cd)) == 0 {
			continue
		}
		if err := encoder.EncodeToken(token); err != nil {
			return "", err
		}
	}
	if err := encoder.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func prettyHTML(data []byte) (string, error) {
	node, err := nethtml.Parse(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	renderHTMLNode(&builder, node, 0)
	return builder.String(), nil
}

func renderHTMLNode(builder *strings.Builder, node *nethtml.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch node.Type {
	case nethtml.DocumentNode:
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			renderHTMLNode(builder, child, depth)
		}
	case nethtml.DoctypeNode:
		builder.WriteString("<!DOCTYPE " + node.Data + ">\n")
	case nethtml.ElementNode:
		builder.WriteString(indent + "<" + node.Data)
		for _, attr := range node.Attr {
			fmt.Fprintf(builder, " %s=\"%s\"", attr.Key, html.EscapeString(attr.Val))
		}
		if isVoidElement(node.Data) {
			builder.WriteString(" />\n")
			return
		}
		if node.FirstChild == nil {
			builder.WriteString("></" + node.Data + ">\n")
			return
		}
		builder.WriteString(">\n")
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			renderHTMLNode(builder, child, depth+1)
		}
		builder.WriteString(indent + "</" + node.Data + ">\n")
	case nethtml.TextNode:
		text := strings.TrimSpace(node.Data)
		if text == "" {
			return
		}
		builder.WriteString(indent + text + "\n")
	case nethtml.CommentNode:
		builder.WriteString(indent + "<!--" + strings.TrimSpace(node.Data) + "-->\n")
	}
}

func isVoidElement(tag string) bool {
	switch strings.ToLower(tag) {
	case "area", "base", "br", "col", "embed", "hr", "img", "input", "keygen", "link", "meta", "param", "source", "track", "wbr":
		return true
	default:
		return false
	}
}
