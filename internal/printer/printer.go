package printer

import (
	"sync/atomic"

	"github.com/funnyzak/mocktap/internal/logger"
	"github.com/funnyzak/mocktap/pkg/request"
)

// Printer renders mock hits for the operator.
type Printer interface {
	PrintHit(*request.Hit) error
}

var hitCounter uint64

func nextHitNumber() uint64 {
	return atomic.AddUint64(&hitCounter, 1)
}

// New returns the printer for the given output mode. A silenced server
// gets no printer at all.
func New(mode string, silence bool, log logger.Logger) Printer {
	if silence {
		return nil
	}
	switch mode {
	case "json":
		return NewJSONPrinter(log)
	default:
		return NewConsolePrinter(log)
	}
}
