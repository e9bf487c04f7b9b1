package pageselect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"

	_ "image/jpeg"
	_ "image/png"
)

// Defaults for the candidate scan. Chart tables sit in the front matter of
// the documents this handles, so a bounded scan beats rendering every page.
const (
	DefaultMaxScanPages   = 12
	DefaultCandidateLimit = 3

	// rasterDPI keeps fallback renders cheap. The raster heuristic only
	// needs gross tonal structure, not legible text.
	rasterDPI = 75
)

// ErrNoPages is returned for a document with zero pages.
var ErrNoPages = errors.New("document has no pages")

// Document is the minimal surface the selector needs from a multi-page
// document. Page numbers are 1-based. RenderPage returns an encoded image
// (PNG or JPEG).
type Document interface {
	PageCount() int
	PageText(ctx context.Context, page int) (string, error)
	RenderPage(ctx context.Context, page, dpi int) ([]byte, error)
}

// Selector ranks a document's pages by chart-table likelihood.
type Selector struct {
	Scorer ScorerConfig
	Raster RasterScorer

	logger *slog.Logger
}

// NewSelector returns a Selector with the stock scorer and raster
// heuristic.
func NewSelector(logger *slog.Logger) *Selector {
	return &Selector{
		Scorer: DefaultScorerConfig(),
		Raster: DefaultRasterScorer(),
		logger: logger,
	}
}

type scoredPage struct {
	page  int
	score PageScore
}

type rasterPage struct {
	page  int
	score float64
}

// SelectCandidates scans up to maxScan pages and returns up to limit page
// numbers ordered best-first. Pages whose text qualifies as chart-like are
// ranked by the text scorer; remaining slots are filled by the raster
// fallback, so a non-empty document always yields at least one candidate.
// The context is checked before each page read and render.
func (s *Selector) SelectCandidates(ctx context.Context, doc Document, maxScan, limit int) ([]int, error) {
	pageCount := doc.PageCount()
	if pageCount < 1 {
		return nil, ErrNoPages
	}
	if maxScan <= 0 {
		maxScan = DefaultMaxScanPages
	}
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	scan := pageCount
	if scan > maxScan {
		scan = maxScan
	}

	var qualified []scoredPage
	var leftover []rasterPage
	for page := 1; page <= scan; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.PageText(ctx, page)
		if err != nil {
			// Image-only pages have no text layer. They stay in the
			// running via the raster fallback.
			s.logger.Debug("page text unavailable", "page", page, "error", err)
			leftover = append(leftover, rasterPage{page: page})
			continue
		}

		score := s.Scorer.Score(text)
		s.logger.Debug("scored page text",
			"page", page,
			"base", score.Base,
			"boost", score.DiscoBoost,
			"ranks", score.RankCount,
			"text_length", score.TextLength)

		if s.Scorer.IsChartLike(score) {
			qualified = append(qualified, scoredPage{page: page, score: score})
		} else {
			leftover = append(leftover, rasterPage{page: page})
		}
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		si, sj := qualified[i].score, qualified[j].score
		if (si.DiscoBoost > 0) != (sj.DiscoBoost > 0) {
			return si.DiscoBoost > 0
		}
		if si.Effective != sj.Effective {
			return si.Effective > sj.Effective
		}
		if si.TextLength != sj.TextLength {
			return si.TextLength > sj.TextLength
		}
		return qualified[i].page < qualified[j].page
	})

	candidates := make([]int, 0, limit)
	for _, p := range qualified {
		if len(candidates) == limit {
			break
		}
		candidates = append(candidates, p.page)
	}

	if len(candidates) < limit && len(leftover) > 0 {
		scored, err := s.scoreRaster(ctx, doc, leftover)
		if err != nil {
			return nil, err
		}
		for _, p := range scored {
			if len(candidates) == limit {
				break
			}
			candidates = append(candidates, p.page)
		}
	}

	s.logger.Debug("selected candidate pages",
		"pages", candidates,
		"qualified_by_text", len(qualified),
		"page_count", pageCount)
	return candidates, nil
}

// SelectBestPage returns the single best page for automatic processing.
func (s *Selector) SelectBestPage(ctx context.Context, doc Document) (int, error) {
	candidates, err := s.SelectCandidates(ctx, doc, DefaultMaxScanPages, 1)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, fmt.Errorf("no candidate pages in %d-page document", doc.PageCount())
	}
	return candidates[0], nil
}

// scoreRaster renders the given pages at low resolution and ranks them by
// the raster heuristic. Render and decode failures score zero rather than
// aborting, so the page list is never emptied by a bad page.
func (s *Selector) scoreRaster(ctx context.Context, doc Document, pages []rasterPage) ([]rasterPage, error) {
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := doc.RenderPage(ctx, pages[i].page, rasterDPI)
		if err != nil {
			s.logger.Debug("raster render failed", "page", pages[i].page, "error", err)
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			s.logger.Debug("raster decode failed", "page", pages[i].page, "error", err)
			continue
		}
		pages[i].score = s.Raster.Score(img)
		s.logger.Debug("scored page raster", "page", pages[i].page, "score", pages[i].score)
	}

	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].score != pages[j].score {
			return pages[i].score > pages[j].score
		}
		return pages[i].page < pages[j].page
	})
	return pages, nil
}
