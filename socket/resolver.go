package socket

import (
	"context"
	"net"
	"net/netip"
)

// Resolver looks up the addresses of a host name. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var _ Resolver = net.DefaultResolver

// lookupHost resolves name off the loop goroutine and hands the result back
// through Post. Results of superseded lookups are dropped by the receiver.
func (s *Socket) lookupHost(name string) {
	s.lookupID++
	id := s.lookupID
	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	s.cancelLookup = cancel

	resolver := s.resolver
	go func() {
		addrs, err := resolver.LookupNetIP(ctx, "ip", name)
		cancel()
		s.loop.Post(func() {
			if id != s.lookupID || s.state != HostLookup {
				return
			}
			s.cancelLookup = nil
			s.hostLookedUp(addrs, err)
		})
	}()
}

func (s *Socket) stopLookup() {
	s.lookupID++
	if s.cancelLookup != nil {
		s.cancelLookup()
		s.cancelLookup = nil
	}
}
