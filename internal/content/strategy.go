package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/mo"
	"go.uber.org/multierr"

	"github.com/lei/readme-gateway/internal/models"
)

// Strategy is one tier of the resolution chain. Fetch returns None when the
// tier does not apply to the record or holds no content, and an error when
// the tier applies but failed.
type Strategy struct {
	Source models.ContentSource
	Fetch  func(ctx context.Context, rec models.HistoryRecord) (mo.Option[string], error)
}

// FirstSuccess runs strategies in order and returns the first non-blank
// text. Errors from tiers that were tried are combined into the returned
// error; they never stop the chain.
func FirstSuccess(ctx context.Context, rec models.HistoryRecord, strategies []Strategy) (string, models.ContentSource, bool, error) {
	var errs error
	for _, s := range strategies {
		if ctx.Err() != nil {
			return "", "", false, multierr.Append(errs, ctx.Err())
		}

		text, err := runStrategy(ctx, rec, s)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Source, err))
			continue
		}
		if v, ok := text.Get(); ok && strings.TrimSpace(v) != "" {
			return v, s.Source, true, errs
		}
	}
	return "", "", false, errs
}

// runStrategy isolates a tier so a panic in one does not abort the chain
func runStrategy(ctx context.Context, rec models.HistoryRecord, s Strategy) (text mo.Option[string], err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = mo.None[string](), fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Fetch(ctx, rec)
}
