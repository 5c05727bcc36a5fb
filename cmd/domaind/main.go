// Package main runs the domain controller daemon: the root of a management
// federation tree (spec.md §4.5 "Host↔Domain"). It hosts the HTTP/JSON
// gateway (spec.md §6), the async wire protocol listener (spec.md §4.5) for
// both ordinary operations and host registration, and persists the model
// through whichever backend PERSISTENCE_BACKEND selects.
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
	"github.com/r3e-network/mgmtctl/internal/proxy"
	"github.com/r3e-network/mgmtctl/internal/registry"
	"github.com/r3e-network/mgmtctl/internal/wire"
	"github.com/r3e-network/mgmtctl/pkg/version"
)

// handlerID is the single wire handler-id this daemon answers, on both the
// domain-initiated dial from a host's callback and the host-initiated dial
// carrying ordinary and host-registration requests.
const handlerID = byte(0x01)

const flushInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("domaind: load config: %v", err)
	}

	logger := logging.New("domaind", cfg.Logging.Level, cfg.Logging.Format)

	reg := registry.New()
	if err := registerBuiltins(reg); err != nil {
		log.Fatalf("domaind: register builtin handlers: %v", err)
	}

	tree := model.New()
	persister, persistencePing, err := newPersister(cfg.Persistence)
	if err != nil {
		log.Fatalf("domaind: init persistence: %v", err)
	}

	ctrl := controller.New(controller.Config{Tree: tree, Registry: reg, Persister: persister, Logger: logger})
	ctrl.SetCompositeEngine(composite.New(reg, tree, persister, logger))

	federation := proxy.NewManager(reg, tree, handlerID, cfg.Wire.ConnectTimeout)
	disp := dispatcher.New(ctrl, handlerID, federation, logger)

	bd := daemon.New(&daemon.Config{
		ID:          "domaind",
		Name:        "mgmtctl-domaind",
		Version:     version.FullVersion(),
		Persistence: persistencePing,
		Logger:      logger,
	})
	bd.WithHydrate(func(ctx context.Context) error {
		return hydrate(tree, persister)
	})
	bd.WithStats(func() map[string]any {
		return map[string]any{"user_agent": version.UserAgent()}
	})
	bd.AddTickerWorker(flushInterval, flushPersister(persister, tree), daemon.WithTickerWorkerName("persist-flush"))

	wireAddr := fmt.Sprintf("%s:%d", cfg.Wire.Host, cfg.Wire.Port)
	bd.AddWorker(wireListenerWorker(bd, wireAddr, disp))

	bd.RegisterStandardRoutes()
	gateway.NewServer(ctrl, logger).RegisterRoutes(bd.Router())
	daemon.ApplyStandardMiddleware(bd, 16<<20)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := daemon.Serve(context.Background(), bd, addr, cfg.Runtime.ShutdownTimeout); err != nil {
		log.Fatalf("domaind: serve: %v", err)
	}
}

// registerBuiltins installs the four builtin operation handlers at the
// root, inherited by every submodel (spec.md §4.3).
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

// healthPinger is the capability both backends share, narrowed to what main
// needs beyond persistence.Persister: a liveness probe for daemon.Config.
type healthPinger interface {
	HealthCheck(ctx context.Context) error
}

func newPersister(cfg config.PersistenceConfig) (persistence.Persister, healthPinger, error) {
	switch cfg.Backend {
	case "", "xmlfile":
		path := cfg.Path
		if path == "" {
			path = "domain.xml"
		}
		b, err := xmlfile.New(path)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case "memory":
		b := memory.New()
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown PERSISTENCE_BACKEND %q", cfg.Backend)
	}
}

// hydrate loads the last stored model, if any, straight onto tree: at boot
// the registration trie already exists (handlers are registered before this
// runs), but going through controller.Execute would require a well-formed
// operation envelope for what is really just restoring a byte-for-byte
// snapshot (persistence.RestoreOp's own doc comment).
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

// wireListenerWorker accepts wire-protocol connections for the lifetime of
// the daemon, serving each on its own goroutine until the daemon stops.
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
			go serveWireConn(ctx, bd, disp, conn)
		}
	}
}

func serveWireConn(ctx context.Context, bd *daemon.BaseDaemon, disp *dispatcher.Dispatcher, conn net.Conn) {
	if err := disp.ServeConn(ctx, wire.NewConn(conn)); err != nil {
		bd.Logger().WithError(err).WithFields(map[string]interface{}{"remote": conn.RemoteAddr().String()}).Warn("wire: connection ended")
	}
}
