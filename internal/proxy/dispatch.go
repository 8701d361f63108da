package proxy

import (
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

const maxRedirects = 20

// UpstreamResponse is what a dispatcher hands back to the engine: headers and
// a body ready to relay. ContentLength is -1 when unknown.
type UpstreamResponse struct {
	Status        int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// Dispatcher executes forward and static targets.
type Dispatcher struct {
	client    *http.Client
	logger    *zerolog.Logger
	userAgent string
}

func NewDispatcher(logger *zerolog.Logger, userAgent string) *Dispatcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
	return &Dispatcher{client: client, logger: logger, userAgent: userAgent}
}

// Forward relays the request to the target origin. The route's matched path
// prefix is stripped and the remainder, plus the query string, is appended to
// the target URL. The context carries the per-request deadline; expiry maps
// to UpstreamTimeout, any other transport failure to UpstreamFetchFailed.
func (d *Dispatcher) Forward(ctx context.Context, target domain.Target, route *domain.Route, r *http.Request) (*UpstreamResponse, error) {
	upstream, err := url.Parse(target.URL)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamFetchFailed, "target URL does not parse", err)
	}
	stripped := strings.TrimPrefix(r.URL.Path, route.Path)
	if stripped != "" && !strings.HasPrefix(stripped, "/") {
		stripped = "/" + stripped
	}
	upstream.Path = strings.TrimRight(upstream.Path, "/") + stripped
	upstream.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, r.Method, upstream.String(), r.Body)
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstreamFetchFailed, "upstream request build failed", err)
	}
	req.Header = cloneHeader(r.Header)
	dropHopByHop(req.Header)
	// Let the transport negotiate and transparently decode compression; the
	// relayed body is surfaced identity-encoded.
	req.Header.Del("Accept-Encoding")
	req.Header.Set("User-Agent", d.userAgent)
	req.Host = upstream.Host
	req.ContentLength = r.ContentLength

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || isTimeout(err) {
			return nil, domain.Wrap(domain.KindUpstreamTimeout, "upstream call exceeded the route deadline", err)
		}
		return nil, domain.Wrap(domain.KindUpstreamFetchFailed, "upstream call failed", err)
	}

	header := cloneHeader(resp.Header)
	dropHopByHop(header)
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "*")
	header.Set("Content-Encoding", "identity")
	header.Del("Content-Length")

	return &UpstreamResponse{
		Status:        resp.StatusCode,
		Header:        header,
		Body:          resp.Body,
		ContentLength: -1,
	}, nil
}

// Static resolves the request path inside the target directory and streams
// the file. Paths escaping the directory after normalization resolve to not
// found, as do directories and missing files.
func (d *Dispatcher) Static(target domain.Target, r *http.Request) (*UpstreamResponse, error) {
	rel := path.Clean("/" + r.URL.Path)
	if strings.HasSuffix(r.URL.Path, "/") {
		index := target.Index
		if index == "" {
			index = domain.DefaultStaticIndex
		}
		rel = path.Join(rel, index)
	}

	root, err := filepath.Abs(target.Directory)
	if err != nil {
		return nil, domain.Wrap(domain.KindServerInternal, "static directory does not resolve", err)
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return nil, domain.E(domain.KindStaticNotFound, "path escapes the static directory")
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return nil, domain.E(domain.KindStaticNotFound, "no such file")
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, domain.Wrap(domain.KindStaticNotFound, "file open failed", err)
	}

	header := http.Header{}
	header.Set("Content-Type", contentTypeFor(full))
	return &UpstreamResponse{
		Status:        http.StatusOK,
		Header:        header,
		Body:          f,
		ContentLength: info.Size(),
	}, nil
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		cc := make([]string, len(vv))
		copy(cc, vv)
		out[k] = cc
	}
	return out
}

var hopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func dropHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			if k = textproto.TrimString(k); k != "" {
				h.Del(k)
			}
		}
	}
	for _, k := range hopByHop {
		h.Del(k)
	}
}
