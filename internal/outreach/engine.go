// Package outreach runs the search, filter and message workflow against a
// marketplace while enforcing the send cap.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mpreach/mpreach/internal/config"
	"github.com/mpreach/mpreach/internal/filter"
	"github.com/mpreach/mpreach/internal/ledger"
	"github.com/mpreach/mpreach/internal/log"
	"github.com/mpreach/mpreach/internal/marketplace"
	"github.com/mpreach/mpreach/internal/pacing"
	"github.com/mpreach/mpreach/internal/session"
	"github.com/mpreach/mpreach/internal/types"
	"github.com/mpreach/mpreach/internal/utils"
)

// Marketplace is what the engine needs from the site.
type Marketplace interface {
	Authenticate(ctx context.Context, sess *session.Session) error
	Search(ctx context.Context, keyword string) ([]string, error)
	OpenListing(ctx context.Context, url string) (*marketplace.Listing, error)
	ReadListingText(ctx context.Context, l *marketplace.Listing) (string, string)
	SendMessage(ctx context.Context, l *marketplace.Listing, text string) error
	Close(l *marketplace.Listing) error
}

// Engine processes the listings of one search. An Engine is meant to be
// run once.
type Engine struct {
	Mode          types.Mode
	Keyword       string
	Message       string
	MaxMessages   int
	TitleDistance int
	// Unfiltered is set if the filter accepts every listing. It is only
	// used to warn about it.
	Unfiltered bool

	market Marketplace
	ledger ledger.Ledger
	filter *filter.Filter
	pacer  pacing.Pacer

	mu    sync.Mutex
	state State
	sends *sendState
}

// New returns an engine for the given mode configured by cfg.
func New(cfg *config.Config, mode types.Mode, m Marketplace, l ledger.Ledger, pacer pacing.Pacer) (*Engine, error) {
	f, err := filter.New(&cfg.Search, cfg.Outreach.SendUnfiltered)
	if err != nil {
		return nil, err
	}
	if l == nil {
		l = ledger.NewMemory()
	}
	if pacer == nil {
		pacer = pacing.None{}
	}
	return &Engine{
		Mode:          mode,
		Keyword:       cfg.Search.Keyword,
		Message:       cfg.Outreach.Message,
		MaxMessages:   cfg.Outreach.MaxMessages,
		TitleDistance: cfg.Outreach.TitleDistance,
		Unfiltered:    cfg.Outreach.SendUnfiltered,
		market:        m,
		ledger:        l,
		filter:        f,
		pacer:         pacer,
		state:         StateIdle,
		sends:         newSendState(cfg.Outreach.MaxMessages),
	}, nil
}

// State returns the current state of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(ctx context.Context, s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	log.LoggerFromContext(ctx).Debug(fmt.Sprintf("state %s -> %s", prev, s))
}

// Run authenticates with sess, searches for the keyword and processes the
// listings found. The report is returned even if Run fails.
func (e *Engine) Run(ctx context.Context, sess *session.Session) (*types.RunReport, error) {
	runID := uuid.NewString()
	logger := log.LoggerFromContext(ctx).With(slog.String("run", runID))
	ctx = log.ContextWithLogger(ctx, logger)

	report := &types.RunReport{
		RunID:     runID,
		Mode:      e.Mode,
		Keyword:   e.Keyword,
		StartedAt: time.Now(),
		Outcomes:  []types.ListingOutcome{},
	}
	defer func() {
		report.EndedAt = time.Now()
		report.State = string(e.State())
	}()

	if e.Mode == types.ModeOutreach && e.Unfiltered {
		logger.Warn("filter is disabled, every opened listing will be messaged")
	}

	e.setState(ctx, StateAuthenticating)
	if err := e.market.Authenticate(ctx, sess); err != nil {
		return report, e.fail(ctx, fmt.Errorf("authentication failed: %w", err))
	}

	e.setState(ctx, StateSearching)
	logger.Info(fmt.Sprintf("searching for '%s'", e.Keyword))
	urls, err := e.market.Search(ctx, e.Keyword)
	if err != nil {
		if errors.Is(err, marketplace.ErrNoResults) || errors.Is(err, marketplace.ErrSearchTimeout) {
			logger.Warn(err.Error())
			report.Discovery = err.Error()
			e.setState(ctx, StateDone)
			return report, nil
		}
		return report, e.fail(ctx, fmt.Errorf("search failed: %w", err))
	}

	e.setState(ctx, StateIterating)
	for i, u := range urls {
		if e.Mode == types.ModeOutreach && e.sends.capReached() {
			logger.Info(fmt.Sprintf("reached the limit of %d messages, %d listings left unprocessed", e.MaxMessages, len(urls)-i))
			break
		}
		opened, err := e.processListing(ctx, report, i, u)
		if err != nil {
			return report, e.fail(ctx, err)
		}
		last := i == len(urls)-1
		if opened && !last && !(e.Mode == types.ModeOutreach && e.sends.capReached()) {
			if err := e.pacer.Pause(ctx); err != nil {
				return report, e.fail(ctx, err)
			}
		}
	}
	e.setState(ctx, StateDone)

	s := report.Summary
	logger.Info(fmt.Sprintf("done: attempted=%d matched=%d sent=%d skipped=%d failed=%d", s.Attempted, s.Matched, s.Sent, s.Skipped, s.Failed))
	return report, nil
}

func (e *Engine) fail(ctx context.Context, err error) error {
	e.setState(ctx, StateFailed)
	return err
}

func (e *Engine) record(report *types.RunReport, out types.ListingOutcome) {
	out.At = time.Now()
	report.Outcomes = append(report.Outcomes, out)
	switch out.Result {
	case types.ResultSent:
		report.Summary.Sent++
	case types.ResultFailed:
		report.Summary.Failed++
	case types.ResultFiltered, types.ResultContacted, types.ResultDuplicate:
		report.Summary.Skipped++
	}
}

// processListing handles the listing at index i. It reports whether the
// listing was opened. A returned error ends the run; listing level
// failures are recorded in the report instead.
func (e *Engine) processListing(ctx context.Context, report *types.RunReport, i int, u string) (bool, error) {
	logger := log.LoggerFromContext(ctx).With(slog.Int("listing", i+1))
	ctx = log.ContextWithLogger(ctx, logger)
	out := types.ListingOutcome{Index: i + 1, URL: u}

	if e.Mode == types.ModeOutreach {
		if e.sends.hasContacted(u) {
			out.Result, out.Reason = types.ResultContacted, "already contacted in this run"
			logger.Info("skipped: " + out.Reason)
			e.record(report, out)
			return false, nil
		}
		found, err := e.ledger.Contains(ctx, u)
		if err != nil {
			return false, fmt.Errorf("failed to look up %s in the ledger: %w", u, err)
		}
		if found {
			out.Result, out.Reason = types.ResultContacted, "contacted in a previous run"
			logger.Info("skipped: " + out.Reason)
			e.record(report, out)
			return false, nil
		}
	}

	report.Summary.Attempted++
	logger.Info(fmt.Sprintf("opening listing %s", u))
	l, err := e.market.OpenListing(ctx, u)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		out.Result, out.Reason = types.ResultFailed, err.Error()
		logger.Warn(fmt.Sprintf("failed: %v", err))
		e.record(report, out)
		return true, nil
	}
	defer func() {
		if err := e.market.Close(l); err != nil {
			logger.Warn(fmt.Sprintf("failed to close listing: %v", err))
		}
	}()

	title, description := e.market.ReadListingText(ctx, l)
	out.Title = title
	logger.Debug(fmt.Sprintf("title: %s, description: %s", title, utils.ShortenString(description, 80)))

	if ok, reason := e.filter.Evaluate(title, description); !ok {
		out.Result, out.Reason = types.ResultFiltered, reason
		logger.Info("filtered: " + reason)
		e.record(report, out)
		return true, nil
	}
	if other, dup := e.sends.similarTitle(title, e.TitleDistance); dup {
		out.Result, out.Reason = types.ResultDuplicate, fmt.Sprintf("title is similar to '%s'", other)
		logger.Info("skipped: " + out.Reason)
		e.record(report, out)
		return true, nil
	}
	report.Summary.Matched++

	if e.Mode == types.ModeSearch {
		e.sends.remember(title)
		out.Result = types.ResultMatched
		logger.Info("listing passed filter")
		e.record(report, out)
		return true, nil
	}

	if !e.sends.reserve() {
		// only reachable if listings are processed concurrently
		out.Result, out.Reason = types.ResultFailed, "message limit reached"
		e.record(report, out)
		return true, nil
	}
	if err := e.market.SendMessage(ctx, l, e.Message); err != nil {
		e.sends.release()
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		out.Result, out.Reason = types.ResultFailed, err.Error()
		logger.Warn(fmt.Sprintf("failed to send message: %v", err))
		e.record(report, out)
		return true, nil
	}
	e.sends.commit(u, title)
	out.Result = types.ResultSent
	e.record(report, out)
	logger.Info(fmt.Sprintf("message sent (%d/%d)", e.sends.sentCount(), e.MaxMessages))

	entry := ledger.Entry{URL: u, Title: title, RunID: report.RunID, SentAt: time.Now()}
	if err := e.ledger.Add(ctx, entry); err != nil {
		return true, fmt.Errorf("message sent but failed to record %s in the ledger: %w", u, err)
	}
	return true, nil
}
