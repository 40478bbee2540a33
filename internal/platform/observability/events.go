package observability

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lunaroja/api/internal/platform/requestctx"
)

// EventFunc is the structured event hook accepted by the service layer.
type EventFunc func(ctx context.Context, event string, fields map[string]any)

// Events that need operator attention. Anything ending in _failed is also warned.
var warnEvents = map[string]struct{}{
	"gateway.discrepancy":           {},
	"gateway.paid_out_of_stock":     {},
	"gateway.callback_invalid":      {},
	"gateway.callback_unknown_order": {},
	"checkout.cart_rejected":        {},
	"cart.price_mismatch":           {},
	"conversion.beacon_dropped":     {},
	"jobs.panic":                    {},
}

// NewEventLogger adapts zap to EventFunc. The request scoped logger wins over base
// so events inherit request_id and trace fields.
func NewEventLogger(base *zap.Logger) EventFunc {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		if ce := logger.Check(eventLevel(event), event); ce != nil {
			ce.Write(eventFields(event, fields)...)
		}
	}
}

func eventLevel(event string) zapcore.Level {
	if _, ok := warnEvents[event]; ok {
		return zapcore.WarnLevel
	}
	if strings.HasSuffix(event, "_failed") {
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

func eventFields(event string, fields map[string]any) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys)+1)
	out = append(out, zap.String("event", event))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
