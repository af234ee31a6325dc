package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

// Policy decides what happens to an utterance whose translation failed.
type Policy string

const (
	// PolicySuppress drops the utterance after reporting the error.
	PolicySuppress Policy = "suppress"

	// PolicyMarker emits the utterance with a "[Translation error: ...]"
	// marker as its translated text.
	PolicyMarker Policy = "marker"
)

// ParsePolicy parses a policy name. The empty string selects [PolicySuppress].
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicySuppress, nil
	case PolicySuppress, PolicyMarker:
		return p, nil
	}
	return "", fmt.Errorf("pipeline: unknown translation policy %q", s)
}

// Marker returns the text emitted in place of a failed translation.
func Marker(err error) string {
	return "[Translation error: " + err.Error() + "]"
}

// TranslationStage calls the translation provider once per recognised text.
type TranslationStage struct {
	provider translate.Provider
	name     string
	timeout  time.Duration
	metrics  *observe.Metrics
}

// NewTranslationStage wraps p. A timeout <= 0 selects [DefaultRequestTimeout];
// metrics may be nil.
func NewTranslationStage(p translate.Provider, name string, timeout time.Duration, metrics *observe.Metrics) *TranslationStage {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &TranslationStage{provider: p, name: name, timeout: timeout, metrics: metrics}
}

// Translate translates text from one language to another under the stage
// timeout. Every failure, including an empty translation, wraps
// [ErrTranslation].
func (t *TranslationStage) Translate(ctx context.Context, text, from, to string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	ctx, span := observe.StartBackendSpan(ctx, observe.SpanTranslate, t.name,
		attribute.String("from", from),
		attribute.String("to", to),
	)
	defer span.End()

	start := time.Now()
	out, err := t.provider.Translate(ctx, translate.Request{Text: text, From: from, To: to})
	if t.metrics != nil {
		t.metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err == nil && strings.TrimSpace(out) == "" {
		err = translate.ErrNoTranslation
	}
	if err != nil {
		observe.FailSpan(span, err)
		if t.metrics != nil {
			t.metrics.RecordProviderRequest(ctx, t.name, "translate", "error")
			if !errors.Is(err, translate.ErrNoTranslation) {
				t.metrics.RecordProviderError(ctx, t.name, errorKind(err))
			}
		}
		return "", fmt.Errorf("%w: %w", ErrTranslation, err)
	}
	if t.metrics != nil {
		t.metrics.RecordProviderRequest(ctx, t.name, "translate", "ok")
	}
	return strings.TrimSpace(out), nil
}
