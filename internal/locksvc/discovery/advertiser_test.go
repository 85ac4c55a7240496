package discovery

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	shutdown bool
}

func (s *fakeServer) Shutdown() { s.shutdown = true }

type registration struct {
	instance, service, domain string
	port                      int
	txt                       []string
	server                    *fakeServer
}

type fakeFactory struct {
	registrations []*registration
	err           error
}

func (f *fakeFactory) Register(instance, service, domain string, port int, txt []string, _ []net.Interface) (Server, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := &registration{instance: instance, service: service, domain: domain, port: port, txt: txt, server: &fakeServer{}}
	f.registrations = append(f.registrations, r)
	return r.server, nil
}

func TestAdvertiseUnregistered(t *testing.T) {
	factory := &fakeFactory{}
	ad := NewAdvertiser(factory)

	require.NoError(t, ad.Advertise(Announcement{InstanceID: "0123456789abcdef", Version: "1.4.0", Port: 8080}))
	require.Len(t, factory.registrations, 1)
	r := factory.registrations[0]
	assert.Equal(t, "unimanage-lock-01234567", r.instance)
	assert.Equal(t, ServiceType, r.service)
	assert.Equal(t, Domain, r.domain)
	assert.Equal(t, 8080, r.port)
	assert.Equal(t, []string{"ver=1.4.0", "reg=0"}, r.txt)
}

func TestAdvertiseReplacesPrevious(t *testing.T) {
	factory := &fakeFactory{}
	ad := NewAdvertiser(factory)

	require.NoError(t, ad.Advertise(Announcement{InstanceID: "abc", Version: "1.4.0", Port: 8080}))
	require.NoError(t, ad.Advertise(Announcement{InstanceID: "abc", Version: "1.4.0", DeviceCode: "door-1", Registered: true, Port: 8080}))

	require.Len(t, factory.registrations, 2)
	assert.True(t, factory.registrations[0].server.shutdown)
	assert.Equal(t, "unimanage-lock-door-1", factory.registrations[1].instance)
	assert.Contains(t, factory.registrations[1].txt, "dc=door-1")
	assert.Contains(t, factory.registrations[1].txt, "reg=1")

	ad.Shutdown()
	assert.True(t, factory.registrations[1].server.shutdown)
}

func TestAdvertiseError(t *testing.T) {
	ad := NewAdvertiser(&fakeFactory{err: errors.New("no multicast")})
	assert.Error(t, ad.Advertise(Announcement{InstanceID: "abc", Port: 8080}))
}
