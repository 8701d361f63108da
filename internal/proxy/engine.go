package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
	obs "github.com/guillaumemeyer/maegashira/internal/infrastructure/observability"
	"github.com/guillaumemeyer/maegashira/internal/middleware"
	"github.com/guillaumemeyer/maegashira/internal/routing"
	"github.com/guillaumemeyer/maegashira/internal/usecase"
	"github.com/guillaumemeyer/maegashira/pkg/shared/id"
)

// Engine drives one request through the state machine:
// resolve -> pre-process -> authenticate -> dispatch -> post-process -> finalize.
// Every terminal path finalizes and records exactly one transaction.
type Engine struct {
	Logger         *zerolog.Logger
	Metrics        *obs.Metrics
	Pipeline       *middleware.Pipeline
	Dispatcher     *Dispatcher
	Snapshot       func() domain.RoutingTable
	Transactions   *usecase.TransactionService
	DefaultTimeout time.Duration
	// DebugHeaders adds the x-maegashira-transaction-* response headers;
	// enabled at debug log level.
	DebugHeaders bool
}

var _ http.Handler = (*Engine)(nil)

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Metrics.ActiveRequests.Inc()
	defer e.Metrics.ActiveRequests.Dec()

	tx := &domain.Transaction{
		ID:        id.New(),
		Start:     time.Now().UTC(),
		ClientIP:  clientHost(r.RemoteAddr),
		Method:    r.Method,
		URL:       "http://" + r.Host + r.URL.RequestURI(),
		UserAgent: r.UserAgent(),
		Cache:     domain.CacheNone,
	}
	if r.ContentLength > 0 {
		tx.RequestBytes = r.ContentLength
	}

	// RESOLVING: the snapshot captured here serves the whole request, even if
	// the table is replaced mid-flight.
	tx.ResolvingStart = time.Now().UTC()
	route := routing.Match(r.Host, r.URL.Path, e.Snapshot())
	tx.ResolvingEnd = time.Now().UTC()
	tx.ResolvingDuration = domain.DurationMs(tx.ResolvingStart, tx.ResolvingEnd)
	e.observePhase("resolving", tx.ResolvingDuration)
	if route == nil {
		tx.Cancel(domain.CancelRouteMatch)
		e.respondText(w, r, tx, http.StatusNotFound, "Route not found")
		return
	}

	var preKeys, postKeys []string
	if route.Middlewares != nil {
		preKeys, postKeys = route.Middlewares.Pre, route.Middlewares.Post
	}

	// PRE_PROCESSING
	if len(preKeys) > 0 {
		tx.PreprocessingStart = time.Now().UTC()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			e.Logger.Error().Err(err).Str("transaction", tx.ID).Msg("request body read failed")
			e.respondText(w, r, tx, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}
		state := &middleware.State{Transaction: tx, Headers: r.Header.Clone(), Body: body}
		res := e.Pipeline.RunPre(r.Context(), preKeys, state)
		tx.PreprocessingEnd = time.Now().UTC()
		tx.PreprocessingDuration = domain.DurationMs(tx.PreprocessingStart, tx.PreprocessingEnd)
		e.observePhase("preprocessing", tx.PreprocessingDuration)
		if res.Cancelled {
			tx.Cancel(res.Reason)
			e.respondText(w, r, tx, http.StatusBadRequest, "Request cancelled")
			return
		}
		// The state's headers become the proxy's authoritative view.
		r.Header = res.State.Headers
		r.Body = io.NopCloser(bytes.NewReader(res.State.Body))
		r.ContentLength = int64(len(res.State.Body))
		tx.RequestBytes = r.ContentLength
	}

	// AUTHENTICATING: after pre-processing, so middlewares may inject
	// credentials.
	if challenge := Authenticate(route, r); challenge != nil {
		if challenge.WWWAuthenticate != "" {
			w.Header().Set("WWW-Authenticate", challenge.WWWAuthenticate)
		}
		e.respondText(w, r, tx, http.StatusUnauthorized, "Not authorized")
		return
	}

	// DISPATCHING
	target := e.selectTarget(route)
	tx.TargetType = target.Type
	ctx, cancel := context.WithTimeout(r.Context(), route.Timeout(e.DefaultTimeout))
	defer cancel()

	tx.TargetRequestStart = time.Now().UTC()
	var resp *UpstreamResponse
	var err error
	switch target.Type {
	case domain.TargetForward:
		resp, err = e.Dispatcher.Forward(ctx, target, route, r)
	case domain.TargetStatic:
		resp, err = e.Dispatcher.Static(target, r)
	default:
		err = domain.E(domain.KindServerInternal, "redirect targets are not implemented")
	}
	if err != nil {
		e.stampTargetEnd(tx)
		e.dispatchError(w, r, tx, err)
		return
	}

	status := resp.Status
	header := resp.Header

	// Forward responses are buffered: the body is surfaced identity-encoded
	// and accounted on the transaction. Static bodies stream unless a
	// post-processing middleware needs them in memory.
	var body []byte
	var stream io.ReadCloser
	streamLength := resp.ContentLength
	if target.Type == domain.TargetForward || len(postKeys) > 0 {
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		e.stampTargetEnd(tx)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				tx.Cancel(domain.CancelTimeout)
				e.Logger.Warn().Err(err).Str("transaction", tx.ID).Msg("upstream body read exceeded the route deadline")
				e.respondText(w, r, tx, http.StatusGatewayTimeout, "Request timed out")
				return
			}
			tx.Cancel(domain.CancelFetchFailed)
			e.Logger.Error().Err(err).Str("transaction", tx.ID).Msg("upstream body read failed")
			e.respondText(w, r, tx, http.StatusInternalServerError, "Failed to fetch the target URL")
			return
		}
	} else {
		stream = resp.Body
		e.stampTargetEnd(tx)
	}

	// POST_PROCESSING: may mutate the outgoing headers and body, never
	// retroactively unblock dispatch.
	if len(postKeys) > 0 {
		tx.PostprocessingStart = time.Now().UTC()
		state := &middleware.State{Transaction: tx, Headers: header, Body: body}
		res := e.Pipeline.RunPost(r.Context(), postKeys, state)
		tx.PostprocessingEnd = time.Now().UTC()
		tx.PostprocessingDuration = domain.DurationMs(tx.PostprocessingStart, tx.PostprocessingEnd)
		e.observePhase("postprocessing", tx.PostprocessingDuration)
		if res.Cancelled {
			tx.Cancel(res.Reason)
		}
		header = res.State.Headers
		body = res.State.Body
	}

	if stream != nil {
		defer stream.Close()
		e.finish(w, r, tx, status, header, streamLength, func(dst io.Writer) int64 {
			n, _ := io.Copy(dst, stream)
			return n
		})
		return
	}
	e.finish(w, r, tx, status, header, int64(len(body)), func(dst io.Writer) int64 {
		n, _ := dst.Write(body)
		return int64(n)
	})
}

func (e *Engine) dispatchError(w http.ResponseWriter, r *http.Request, tx *domain.Transaction, err error) {
	switch {
	case domain.IsKind(err, domain.KindUpstreamTimeout):
		tx.Cancel(domain.CancelTimeout)
		e.Logger.Warn().Err(err).Str("transaction", tx.ID).Msg("upstream timeout")
		e.respondText(w, r, tx, http.StatusGatewayTimeout, "Request timed out")
	case domain.IsKind(err, domain.KindStaticNotFound):
		e.Logger.Debug().Err(err).Str("transaction", tx.ID).Msg("static miss")
		e.respondText(w, r, tx, http.StatusNotFound, "Not found")
	case domain.IsKind(err, domain.KindUpstreamFetchFailed):
		tx.Cancel(domain.CancelFetchFailed)
		e.Logger.Error().Err(err).Str("transaction", tx.ID).Msg("upstream fetch failed")
		e.respondText(w, r, tx, http.StatusInternalServerError, "Failed to fetch the target URL")
	default:
		e.Logger.Error().Err(err).Str("transaction", tx.ID).Msg("dispatch failed")
		e.respondText(w, r, tx, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// selectTarget picks one of the route's targets. Random is the only defined
// strategy; anything else degrades to uniform random with a warning.
func (e *Engine) selectTarget(route *domain.Route) domain.Target {
	if len(route.Targets) == 1 {
		return route.Targets[0]
	}
	if lb := route.LoadBalancing; lb != nil && lb.Type != domain.LoadBalancingRandom {
		e.Logger.Warn().Str("strategy", lb.Type).Msg("unknown load-balancing strategy, using random")
	}
	return route.Targets[rand.Intn(len(route.Targets))]
}

func (e *Engine) respondText(w http.ResponseWriter, r *http.Request, tx *domain.Transaction, status int, message string) {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	body := []byte(message)
	e.finish(w, r, tx, status, header, int64(len(body)), func(dst io.Writer) int64 {
		n, _ := dst.Write(body)
		return int64(n)
	})
}

// finish is the single exit of the state machine: it stamps the terminal
// fields, emits the response and records the transaction.
func (e *Engine) finish(w http.ResponseWriter, r *http.Request, tx *domain.Transaction, status int, header http.Header, length int64, write func(io.Writer) int64) {
	tx.Status = status
	tx.StatusText = http.StatusText(status)
	tx.Finalize(time.Now().UTC())

	dst := w.Header()
	for k, vv := range header {
		dst[k] = vv
	}
	if length >= 0 {
		dst.Set("Content-Length", strconv.FormatInt(length, 10))
	}
	if e.DebugHeaders {
		prefix := "x-" + obs.ProductName + "-transaction-"
		dst.Set(prefix+"id", tx.ID)
		dst.Set(prefix+"cache", tx.Cache)
		dst.Set(prefix+"duration", strconv.FormatInt(tx.Duration, 10))
		dst.Set(prefix+"overhead", strconv.FormatInt(tx.TotalOverhead, 10))
		dst.Set(prefix+"overhead-percentage", fmt.Sprintf("%.2f", tx.OverheadPct))
	}
	w.WriteHeader(status)
	tx.ResponseBytes = write(w)

	e.Metrics.ResponseCodes.WithLabelValues(strconv.Itoa(status)).Inc()
	e.Metrics.TransactionsTotal.Inc()
	e.observePhase("target_request", tx.TargetRequestDuration)
	e.Transactions.Record(context.WithoutCancel(r.Context()), *tx)
}

func (e *Engine) stampTargetEnd(tx *domain.Transaction) {
	tx.TargetRequestEnd = time.Now().UTC()
	tx.TargetRequestDuration = domain.DurationMs(tx.TargetRequestStart, tx.TargetRequestEnd)
}

func (e *Engine) observePhase(phase string, ms int64) {
	e.Metrics.PhaseDuration.WithLabelValues(phase).Observe(float64(ms) / 1000)
}

func clientHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(remoteAddr)
}
