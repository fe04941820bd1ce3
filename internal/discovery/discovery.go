// Package discovery advertises the hub over mDNS/DNS-SD so a node (or
// an operator's phone) can find it on the local network without a
// hardcoded address, grounded on the teacher pack's dnssd usage.
package discovery

import (
	"context"
	"log/slog"

	"github.com/brutella/dnssd"

	fgerrors "github.com/foresthq/guardian/internal/errors"
	"github.com/foresthq/guardian/internal/logging"
)

// ServiceType is the DNS-SD service type the hub advertises itself
// under.
const ServiceType = "_forestguardian._tcp"

// Advertiser announces the hub's HTTP API over mDNS until its context
// is canceled.
type Advertiser struct {
	name string
	port int
	log  *slog.Logger
}

// New constructs an Advertiser for the given service name and HTTP
// port. An empty name falls back to "Forest Guardian Hub".
func New(name string, port int) *Advertiser {
	if name == "" {
		name = "Forest Guardian Hub"
	}
	return &Advertiser{name: name, port: port, log: logging.ForService("discovery")}
}

// Start registers the service and runs the mDNS responder in a
// background goroutine. It returns once the service is registered;
// call the returned stop function (or cancel ctx) to withdraw the
// advertisement.
func (a *Advertiser) Start(ctx context.Context) (stop func(), err error) {
	cfg := dnssd.Config{
		Name: a.name,
		Type: ServiceType,
		Port: a.port,
	}

	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fgerrors.New(err).Component("discovery").Category(fgerrors.CategoryDiscovery).Build()
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fgerrors.New(err).Component("discovery").Category(fgerrors.CategoryDiscovery).Build()
	}

	if _, err := responder.Add(svc); err != nil {
		return nil, fgerrors.New(err).Component("discovery").Category(fgerrors.CategoryDiscovery).Build()
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := responder.Respond(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("mDNS responder stopped unexpectedly", "err", err)
		}
	}()

	a.log.Info("advertising hub over mDNS", "name", a.name, "type", ServiceType, "port", a.port)
	return cancel, nil
}
