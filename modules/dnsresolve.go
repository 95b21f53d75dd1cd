// Package modules ships a small set of illustrative data-source modules
// exercising the full Module Host Contract, standing in for the source
// sfp_* module catalogue per spec.md's non-goal of reimplementing every
// module verbatim.
package modules

import (
	"context"
	"time"

	"github.com/spiderfoot/core/event"
	"github.com/spiderfoot/core/host"
	"github.com/spiderfoot/core/target"
)

// DNSResolver resolves the scan target (and any hostname-shaped findings
// other modules surface) to IP addresses, grounded on the classic
// sfp_dnsresolve module's watched/produced event pair.
type DNSResolver struct {
	host   *host.Host
	target target.Target
}

func NewDNSResolver() *DNSResolver { return &DNSResolver{} }

func (m *DNSResolver) Name() string { return "sfp_dnsresolve" }

func (m *DNSResolver) WatchedEvents() []string {
	return []string{event.TypeRoot, "DOMAIN_NAME", "INTERNET_NAME"}
}

func (m *DNSResolver) ProducedEvents() []string { return []string{"IP_ADDRESS"} }

func (m *DNSResolver) Setup(h *host.Host, _ map[string]string) error {
	m.host = h
	return nil
}

func (m *DNSResolver) SetTarget(t target.Target) { m.target = t }

func (m *DNSResolver) HandleEvent(e event.Event) error {
	hostname := e.Data()
	if e.Type() == event.TypeRoot && m.target.Type != "INTERNET_NAME" && m.target.Type != "DOMAIN_NAME" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addrs, err := m.host.ResolveHost(ctx, hostname)
	if err != nil {
		return nil // a module records what it can; a lookup miss isn't a module failure
	}
	for _, addr := range addrs {
		ev := event.New(m.host.NextEventID(), "IP_ADDRESS", addr, m.Name(), e.ID(), true, 100, 100, 0, "")
		m.host.NotifyListeners(ev)
	}
	return nil
}
