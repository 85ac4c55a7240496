// Package discovery announces the lock on the local network over DNS-SD so
// installers can find the status API before the device is registered.
package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	log "github.com/sirupsen/logrus"
)

const (
	ServiceType = "_unimanage-lock._tcp"
	Domain      = "local."
)

// Server is a running mDNS registration.
type Server interface {
	Shutdown()
}

// ServerFactory creates mDNS registrations; tests swap in a fake.
type ServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Server, error)
}

type zeroconfFactory struct{}

func (zeroconfFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Server, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Announcement is what the lock publishes about itself.
type Announcement struct {
	InstanceID string
	Version    string
	DeviceCode string
	Registered bool
	Port       int
}

func (a Announcement) instance() string {
	if a.DeviceCode != "" {
		return "unimanage-lock-" + a.DeviceCode
	}
	id := a.InstanceID
	if len(id) > 8 {
		id = id[:8]
	}
	return "unimanage-lock-" + id
}

func (a Announcement) txt() []string {
	reg := "0"
	if a.Registered {
		reg = "1"
	}
	txt := []string{"ver=" + a.Version, "reg=" + reg}
	if a.DeviceCode != "" {
		txt = append(txt, "dc="+a.DeviceCode)
	}
	return txt
}

type Advertiser struct {
	factory ServerFactory
	mu      sync.Mutex
	server  Server
}

// NewAdvertiser uses zeroconf when factory is nil.
func NewAdvertiser(factory ServerFactory) *Advertiser {
	if factory == nil {
		factory = zeroconfFactory{}
	}
	return &Advertiser{factory: factory}
}

// Advertise replaces any previous registration with a.
func (ad *Advertiser) Advertise(a Announcement) error {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	if ad.server != nil {
		ad.server.Shutdown()
		ad.server = nil
	}
	server, err := ad.factory.Register(a.instance(), ServiceType, Domain, a.Port, a.txt(), nil)
	if err != nil {
		return fmt.Errorf("mdns register %s: %w", a.instance(), err)
	}
	ad.server = server
	log.Infof("discovery: advertising %s.%s on port %d", a.instance(), ServiceType, a.Port)
	return nil
}

func (ad *Advertiser) Shutdown() {
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if ad.server != nil {
		ad.server.Shutdown()
		ad.server = nil
	}
}
