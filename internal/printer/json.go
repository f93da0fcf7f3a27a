package printer

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/request"
)

// JSONPrinter writes one JSON line per hit.
type JSONPrinter struct {
	encoder *json.Encoder
	logger  logger.Logger
	mu      sync.Mutex
}

// NewJSONPrinter creates a JSON line printer on stdout.
func NewJSONPrinter(log logger.Logger) *JSONPrinter {
	p := &JSONPrinter{logger: log}
	p.SetOutput(os.Stdout)
	return p
}

// SetOutput replaces the destination writer.
func (p *JSONPrinter) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)

	p.mu.Lock()
	p.encoder = encoder
	p.mu.Unlock()
}

type jsonHitEnvelope struct {
	Type       string               `json:"type"`
	Seq        uint64               `json:"seq"`
	StatusCode int                  `json:"status_code"`
	DelayMs    int                  `json:"delay_ms"`
	Entry      *request.AccessLog   `json:"entry,omitempty"`
	Request    *request.RequestData `json:"request"`
	BodyText   string               `json:"body_text,omitempty"`
}

// PrintHit encodes the hit as a single JSON line.
func (p *JSONPrinter) PrintHit(hit *request.Hit) error {
	if hit == nil {
		return nil
	}
	env := jsonHitEnvelope{
		Type:       "hit",
		Seq:        nextHitNumber(),
		StatusCode: hit.StatusCode,
		DelayMs:    hit.DelayMs,
		Entry:      hit.Entry,
		Request:    hit.Request,
	}
	if data := hit.Request; data != nil && !data.IsBinary && len(data.Body) > 0 {
		env.BodyText = string(data.Body)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.encoder.Encode(env); err != nil {
		if p.logger != nil {
			p.logger.Error("Failed to encode hit JSON", "error", err)
		}
		return err
	}
	return nil
}
