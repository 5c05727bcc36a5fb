// Package main runs the host controller daemon: it serves its own local
// model over the HTTP/JSON gateway and the wire protocol, and registers
// itself with a domain controller (cmd/domaind) over the wire protocol so
// the domain can proxy operations down into it (spec.md §4.5
// "Host↔Domain").
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/r3e-network/mgmtctl/infrastructure/config"
	"github.com/r3e-network/mgmtctl/infrastructure/daemon"
	"github.com/r3e-network/mgmtctl/infrastructure/logging"
	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/composite"
	"github.com/r3e-network/mgmtctl/internal/controller"
	"github.com/r3e-network/mgmtctl/internal/dispatcher"
	"github.com/r3e-network/mgmtctl/internal/gateway"
	"github.com/r3e-network/mgmtctl/internal/handler/builtin"
	"github.com/r3e-network/mgmtctl/internal/model"
	"github.com/r3e-network/mgmtctl/internal/persistence"
	"github.com/r3e-network/mgmtctl/internal/persistence/memory"
	"github.com/r3e-network/mgmtctl/internal/persistence/xmlfile"
	"github.com/r3e-network/mgmtctl/internal/registry"
	"github.com/r3e-network/mgmtctl/internal/wire"
	"github.com/r3e-network/mgmtctl/pkg/version"
)

// handlerID must match cmd/domaind's: the domain dials this daemon's
// callback listener and addresses every forwarded request to it.
const handlerID = byte(0x01)

const flushInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("hostd: load config: %v", err)
	}
	if cfg.Runtime.HostID == "" {
		log.Fatal("hostd: RUNTIME_HOST_ID is required")
	}
	if cfg.Runtime.DomainAddress == "" {
		log.Fatal("hostd: RUNTIME_DOMAIN_ADDRESS is required")
	}

	logger := logging.New("hostd", cfg.Logging.Level, cfg.Logging.Format)

	reg := registry.New()
	if err := registerBuiltins(reg); err != nil {
		log.Fatalf("hostd: register builtin handlers: %v", err)
	}

	tree := model.New()
	persister, persistencePing, err := newPersister(cfg.Persistence)
	if err != nil {
		log.Fatalf("hostd: init persistence: %v", err)
	}

	ctrl := controller.New(controller.Config{Tree: tree, Registry: reg, Persister: persister, Logger: logger})
	ctrl.SetCompositeEngine(composite.New(reg, tree, persister, logger))

	// Federation is nil: a host's own dispatcher never receives
	// REGISTER/UNREGISTER_HOST_CONTROLLER, only the domain it registers
	// with does.
	disp := dispatcher.New(ctrl, handlerID, nil, logger)

	bd := daemon.New(&daemon.Config{
		ID:          "hostd",
		Name:        "mgmtctl-hostd",
		Version:     version.FullVersion(),
		Persistence: persistencePing,
		Logger:      logger,
		RequiredEnv: []string{"RUNTIME_DOMAIN_ADDRESS", "RUNTIME_HOST_ID"},
	})
	bd.WithHydrate(func(ctx context.Context) error {
		return hydrate(tree, persister)
	})
	bd.WithStats(func() map[string]any {
		return map[string]any{"host_id": cfg.Runtime.HostID, "domain_address": cfg.Runtime.DomainAddress}
	})
	bd.AddTickerWorker(flushInterval, flushPersister(persister, tree), daemon.WithTickerWorkerName("persist-flush"))

	callbackAddr := fmt.Sprintf("%s:%d", cfg.Wire.Host, cfg.Wire.Port)
	bd.AddWorker(wireListenerWorker(bd, callbackAddr, disp))
	bd.AddWorker(domainRegistrationWorker(bd, cfg, callbackAddr))

	bd.RegisterStandardRoutes()
	gateway.NewServer(ctrl, logger).RegisterRoutes(bd.Router())
	daemon.ApplyStandardMiddleware(bd, 16<<20)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := daemon.Serve(context.Background(), bd, addr, cfg.Runtime.ShutdownTimeout); err != nil {
		log.Fatalf("hostd: serve: %v", err)
	}
}

func registerBuiltins(reg *registry.Registry) error {
	root := reg.Root()
	handlers := map[string]registry.Handler{
		"read-resource":   builtin.ReadResource{},
		"write-attribute": builtin.WriteAttribute{},
		"add-resource":    builtin.AddResource{},
		"remove-resource": builtin.RemoveResource{},
	}
	for name, h := range handlers {
		if err := root.RegisterOperationHandler(name, h, nil, true); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

type healthPinger interface {
	HealthCheck(ctx context.Context) error
}

// newPersister mirrors cmd/domaind's backend selection, except that an
// empty PERSISTENCE_BACKEND selects the memory backend here. A host and domain
// colocated on one machine must set distinct PERSISTENCE_PATH values when
// both use "xmlfile" — config.New()'s shared default path is meant for a
// single daemon per machine, not two sharing one document.
func newPersister(cfg config.PersistenceConfig) (persistence.Persister, healthPinger, error) {
	switch cfg.Backend {
	case "", "memory":
		b := memory.New()
		return b, b, nil
	case "xmlfile":
		path := cfg.Path
		if path == "" {
			path = "host.xml"
		}
		b, err := xmlfile.New(path)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown PERSISTENCE_BACKEND %q", cfg.Backend)
	}
}

func hydrate(tree *model.Tree, p persistence.Persister) error {
	ops, err := p.Load()
	if err != nil {
		return fmt.Errorf("load persisted model: %w", err)
	}
	for _, op := range ops {
		snapshot := persistence.RestoredModel(op)
		if !snapshot.IsDefined() {
			continue
		}
		if err := tree.WriteAt(address.Root(), snapshot, true); err != nil {
			return fmt.Errorf("restore model: %w", err)
		}
	}
	return nil
}

func flushPersister(p persistence.Persister, tree *model.Tree) func(context.Context) error {
	return func(ctx context.Context) error {
		return p.Store(tree.Snapshot())
	}
}

// wireListenerWorker accepts the domain controller's forwarding connection
// (and any other wire-protocol client) and serves it against this host's
// own dispatcher.
func wireListenerWorker(bd *daemon.BaseDaemon, addr string, disp *dispatcher.Dispatcher) func(context.Context) {
	return func(ctx context.Context) {
		ln, err := wire.Listen(addr)
		if err != nil {
			bd.Logger().WithError(err).Error("wire: listen failed")
			return
		}
		go func() {
			<-bd.StopChan()
			ln.Close()
		}()
		bd.Logger().WithFields(map[string]interface{}{"addr": addr}).Info("wire listener started")

		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-bd.StopChan():
					return
				default:
				}
				bd.Logger().WithError(err).Warn("wire: accept failed")
				return
			}
			go func(c net.Conn) {
				if err := disp.ServeConn(ctx, wire.NewConn(c)); err != nil {
					bd.Logger().WithError(err).WithFields(map[string]interface{}{"remote": c.RemoteAddr().String()}).Warn("wire: connection ended")
				}
			}(conn)
		}
	}
}

// domainRegistrationWorker dials the domain controller, sends
// REGISTER_HOST_CONTROLLER advertising callbackAddr, and holds the
// connection open until the daemon stops, at which point it unregisters
// (spec.md §4.5, SPEC_FULL.md §4 item 3). callbackAddr must be reachable
// from the domain controller's process — binding WIRE_HOST to a routable
// address (not 0.0.0.0) is the operator's responsibility in a real
// multi-host deployment.
func domainRegistrationWorker(bd *daemon.BaseDaemon, cfg *config.Config, callbackAddr string) func(context.Context) {
	return func(ctx context.Context) {
		logger := bd.Logger().WithFields(map[string]interface{}{
			"domain":  cfg.Runtime.DomainAddress,
			"host_id": cfg.Runtime.HostID,
		})

		conn, err := wire.Dial(cfg.Runtime.DomainAddress, cfg.Wire.ConnectTimeout)
		if err != nil {
			logger.WithError(err).Error("register with domain failed")
			return
		}

		if err := wire.WriteRegisterHostRequest(conn, handlerID, cfg.Runtime.HostID, callbackAddr); err != nil {
			logger.WithError(err).Error("send register-host request failed")
			conn.Close()
			return
		}
		if _, err := wire.ReadModelSnapshot(conn); err != nil {
			logger.WithError(err).Error("register-host response failed")
			conn.Close()
			return
		}
		logger.Info("registered with domain controller")

		<-bd.StopChan()

		if err := wire.WriteUnregisterHostRequest(conn, handlerID, cfg.Runtime.HostID); err != nil {
			logger.WithError(err).Warn("send unregister-host request failed")
		} else if _, err := wire.ReadCancelAck(conn); err != nil {
			logger.WithError(err).Warn("unregister-host ack failed")
		}
		conn.Close()
	}
}
