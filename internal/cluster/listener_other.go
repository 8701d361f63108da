//go:build !unix

package cluster

import (
	"context"
	"net"
)

// Without SO_REUSEPORT only the first worker can bind the port; the topology
// degrades to a single listener on these platforms.
func listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}
