package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// Container labels that opt a container into the routing table.
const (
	LabelHostname = "maegashira.public.hostname"
	LabelPath     = "maegashira.public.path"
	LabelPort     = "maegashira.private.port"
)

const (
	DefaultSocketPath      = "/var/run/docker.sock"
	DefaultRefreshInterval = 30 * time.Second
)

type Options struct {
	SocketPath      string
	RefreshInterval time.Duration
}

// container is the slice of the Docker Engine /containers/json payload the
// poller needs.
type container struct {
	ID              string            `json:"Id"`
	Names           []string          `json:"Names"`
	Labels          map[string]string `json:"Labels"`
	NetworkSettings struct {
		Networks map[string]struct {
			IPAddress string `json:"IPAddress"`
		} `json:"Networks"`
	} `json:"NetworkSettings"`
}

// Poller periodically reads the local Docker API over its Unix socket and
// synthesizes a full candidate routing table from labelled containers. Each
// cycle hands the complete table to apply; poll failures are logged and the
// last installed table is kept.
type Poller struct {
	client   *http.Client
	interval time.Duration
	logger   *zerolog.Logger
	apply    func(domain.RoutingTable) error
}

func NewPoller(opts Options, logger *zerolog.Logger, apply func(domain.RoutingTable) error) *Poller {
	socket := opts.SocketPath
	if socket == "" {
		socket = DefaultSocketPath
	}
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Poller{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socket)
				},
			},
			Timeout: 10 * time.Second,
		},
		interval: interval,
		logger:   logger,
		apply:    apply,
	}
}

// Run polls until the context is cancelled. The first cycle fires
// immediately so a fresh boot converges without waiting an interval.
func (p *Poller) Run(ctx context.Context) {
	p.refresh(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	table, err := p.Discover(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("docker discovery poll failed, keeping last table")
		return
	}
	if err := p.apply(table); err != nil {
		p.logger.Error().Err(err).Msg("docker discovery produced an invalid table")
	}
}

// Discover lists the running containers and builds the candidate table.
func (p *Poller) Discover(ctx context.Context) (domain.RoutingTable, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost/containers/json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("docker api returned %s", resp.Status)
	}

	var containers []container
	if err := json.NewDecoder(resp.Body).Decode(&containers); err != nil {
		return nil, err
	}

	table := domain.RoutingTable{}
	for _, c := range containers {
		route, ok := p.routeFor(c)
		if !ok {
			continue
		}
		table = append(table, route)
	}
	// Stable ordering so identical container sets produce identical tables.
	sort.SliceStable(table, func(i, j int) bool {
		if table[i].Hostname != table[j].Hostname {
			return table[i].Hostname < table[j].Hostname
		}
		return table[i].Path < table[j].Path
	})
	return table, nil
}

func (p *Poller) routeFor(c container) (domain.Route, bool) {
	hostname := c.Labels[LabelHostname]
	port := c.Labels[LabelPort]
	if hostname == "" || port == "" {
		return domain.Route{}, false
	}
	// The container's name is the service identity; containers without one
	// are skipped.
	name := serviceName(c)
	if name == "" {
		p.logger.Warn().Str("container", c.ID).Msg("labelled container has no name, skipping")
		return domain.Route{}, false
	}

	ip := containerIP(c)
	if ip == "" {
		ip = "localhost"
	}
	p.logger.Debug().Str("service", name).Str("hostname", hostname).Msg("discovered container route")
	return domain.Route{
		Hostname: strings.ToLower(hostname),
		Path:     c.Labels[LabelPath],
		Targets: []domain.Target{{
			Type: domain.TargetForward,
			URL:  fmt.Sprintf("http://%s:%s", ip, port),
		}},
	}, true
}

func serviceName(c container) string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

func containerIP(c container) string {
	for _, nw := range c.NetworkSettings.Networks {
		if nw.IPAddress != "" {
			return nw.IPAddress
		}
	}
	return ""
}
