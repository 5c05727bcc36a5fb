package proxy

import (
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/model"
	"github.com/r3e-network/mgmtctl/internal/registry"
	"github.com/r3e-network/mgmtctl/internal/wire"
)

// HostAddressKey is the path-address key under which a domain controller
// registers each federated host controller: (host,<id>) (spec.md §4.5
// "Host↔Domain", GLOSSARY "Proxy controller").
const HostAddressKey = "host"

// Manager implements the domain side of host↔domain federation: it installs
// a Remote proxy for each registering host at (host,<id>) and tears it down
// again on unregistration.
//
// A registering host's REGISTER_HOST_CONTROLLER request arrives on a
// connection the host dialed — domaind keeps reading that connection for
// further host-initiated requests (UNREGISTER_HOST_CONTROLLER, a future
// registration renewal). Forwarding proxied operations back down to that
// same socket would race domaind's own read loop against Remote's
// response-reading goroutine with no way to tell a request frame from a
// response frame apart on an interleaved stream. Rather than add a
// multiplexing header the wire format doesn't specify, Manager dials the
// host's own listener (its callback address, piggybacked on the register
// request) and forwards over that second, dedicated connection instead.
type Manager struct {
	Registry       *registry.Registry
	Tree           *model.Tree
	HandlerID      byte
	ConnectTimeout time.Duration

	mu    sync.Mutex
	hosts map[string]*Remote
}

// NewManager builds a Manager over reg/tree, proxying forwarded operations
// to handlerID on each host's callback connection.
func NewManager(reg *registry.Registry, tree *model.Tree, handlerID byte, connectTimeout time.Duration) *Manager {
	return &Manager{Registry: reg, Tree: tree, HandlerID: handlerID, ConnectTimeout: connectTimeout, hosts: make(map[string]*Remote)}
}

// RegisterHost handles a REGISTER_HOST_CONTROLLER request: it dials back to
// callbackAddr, creates the (host,hostID) submodel node, installs the
// resulting connection as its proxy controller, and returns the domain's
// current model snapshot for the response (spec.md §4.5: "response
// PARAM_MODEL + root model snapshot").
func (m *Manager) RegisterHost(hostID, callbackAddr string) (*dmr.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.hosts[hostID]; exists {
		return nil, fmt.Errorf("proxy: host %q already registered", hostID)
	}

	conn, err := wire.Dial(callbackAddr, m.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial host %q callback %s: %w", hostID, callbackAddr, err)
	}

	elem := address.Element{Key: HostAddressKey, Value: hostID}
	child, err := m.Registry.Root().RegisterSubModel(elem, func() *dmr.Value { return dmr.Object() })
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: register host submodel: %w", err)
	}

	remote := NewRemote(conn, m.HandlerID, nil, nil)
	if err := child.RegisterProxyController(remote); err != nil {
		_ = m.Registry.Root().UnregisterSubModel(elem)
		conn.Close()
		return nil, fmt.Errorf("proxy: register host proxy: %w", err)
	}

	m.hosts[hostID] = remote
	return m.Tree.Snapshot(), nil
}

// UnregisterHost handles an UNREGISTER_HOST_CONTROLLER request, tearing
// down the host's submodel (and with it, its proxy registration).
func (m *Manager) UnregisterHost(hostID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	remote, exists := m.hosts[hostID]
	if !exists {
		return fmt.Errorf("proxy: host %q not registered", hostID)
	}
	delete(m.hosts, hostID)
	remote.conn.Close()

	elem := address.Element{Key: HostAddressKey, Value: hostID}
	return m.Registry.Root().UnregisterSubModel(elem)
}
