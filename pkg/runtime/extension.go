package runtime

import (
	"context"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/controlplane"
	"github.com/DeBrosOfficial/dataspace/pkg/dataplane"
	"github.com/DeBrosOfficial/dataspace/pkg/events"
	"github.com/DeBrosOfficial/dataspace/pkg/gateway"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/policy"
	"github.com/DeBrosOfficial/dataspace/pkg/store"
	"github.com/DeBrosOfficial/dataspace/pkg/vault"
)

// Extension adds behaviour to a runtime. Initialize runs while the runtime
// is assembled, before any listener is bound; Start and Shutdown follow the
// runtime's own lifecycle, shutdown in reverse registration order.
type Extension interface {
	Name() string
	Initialize(*Context) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Context exposes the services an extension may use or extend.
type Context struct {
	Config *config.Config
	Logger *logging.ColoredLogger

	Store      *store.SQLStore
	Vault      *vault.MemoryVault
	Policy     *policy.Engine
	Events     *events.Bus
	Management *controlplane.ManagementService

	// DataFlows takes extra controllers; the signaling controller is
	// appended after every extension has been initialized.
	DataFlows         *controlplane.DataFlowManager
	Provisioning      *controlplane.ProvisionManager
	StatusCheckers    *controlplane.StatusCheckerRegistry
	TransferListeners *controlplane.TransferObservable

	// Pipeline is nil without an embedded data plane.
	Pipeline *dataplane.PipelineService
	Health   *gateway.Health

	server *gateway.Server
}

// AddContext serves an extra API.
func (c *Context) AddContext(gc gateway.Context) {
	c.server.Add(gc)
}

// BaseExtension provides no-op lifecycle methods for embedding.
type BaseExtension struct{}

func (BaseExtension) Initialize(*Context) error      { return nil }
func (BaseExtension) Start(context.Context) error    { return nil }
func (BaseExtension) Shutdown(context.Context) error { return nil }
