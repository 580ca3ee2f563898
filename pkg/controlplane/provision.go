package controlplane

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// DefaultLocalPath is the path a local resource gets when the destination
// names none. A provision policy usually rewrites it.
const DefaultLocalPath = "any path"

// ResourceManifestGenerator contributes a resource definition for transfers
// it recognizes.
type ResourceManifestGenerator interface {
	CanGenerate(tp *model.TransferProcess) bool
	Generate(tp *model.TransferProcess, p model.Policy) (*model.ResourceDefinition, error)
}

// Provisioner creates and removes the resources a definition describes.
type Provisioner interface {
	CanProvision(def model.ResourceDefinition) bool
	Provision(ctx context.Context, def model.ResourceDefinition, p model.Policy) (model.ProvisionedResource, error)
	CanDeprovision(res model.ProvisionedResource) bool
	Deprovision(ctx context.Context, res model.ProvisionedResource) error
}

// ProvisionManager holds the generators and provisioners of a connector.
type ProvisionManager struct {
	mu           sync.RWMutex
	generators   []ResourceManifestGenerator
	provisioners []Provisioner
}

// NewProvisionManager creates an empty manager.
func NewProvisionManager() *ProvisionManager {
	return &ProvisionManager{}
}

// RegisterGenerator adds a manifest generator.
func (m *ProvisionManager) RegisterGenerator(g ResourceManifestGenerator) {
	m.mu.Lock()
	m.generators = append(m.generators, g)
	m.mu.Unlock()
}

// RegisterProvisioner adds a provisioner.
func (m *ProvisionManager) RegisterProvisioner(p Provisioner) {
	m.mu.Lock()
	m.provisioners = append(m.provisioners, p)
	m.mu.Unlock()
}

// GenerateManifest asks every matching generator for a definition.
func (m *ProvisionManager) GenerateManifest(tp *model.TransferProcess, p model.Policy) (*model.ResourceManifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	manifest := &model.ResourceManifest{Definitions: []model.ResourceDefinition{}}
	for _, g := range m.generators {
		if !g.CanGenerate(tp) {
			continue
		}
		def, err := g.Generate(tp, p)
		if err != nil {
			return nil, err
		}
		if def != nil {
			manifest.Definitions = append(manifest.Definitions, *def)
		}
	}
	return manifest, nil
}

// Provision provisions each definition with the first provisioner that
// accepts it. Failures are recorded on the returned resources.
func (m *ProvisionManager) Provision(ctx context.Context, manifest *model.ResourceManifest, p model.Policy) []model.ProvisionedResource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ProvisionedResource, 0, len(manifest.Definitions))
	for _, def := range manifest.Definitions {
		prov := m.provisionerFor(def)
		if prov == nil {
			out = append(out, model.ProvisionedResource{
				ID:           uuid.NewString(),
				DefinitionID: def.ID,
				Type:         def.Type,
				Error:        fmt.Sprintf("no provisioner for resource type %s", def.Type),
			})
			continue
		}
		res, err := prov.Provision(ctx, def, p)
		if err != nil {
			res = model.ProvisionedResource{ID: uuid.NewString(), DefinitionID: def.ID, Type: def.Type, Error: err.Error()}
		}
		out = append(out, res)
	}
	return out
}

func (m *ProvisionManager) provisionerFor(def model.ResourceDefinition) Provisioner {
	for _, p := range m.provisioners {
		if p.CanProvision(def) {
			return p
		}
	}
	return nil
}

// Deprovision removes provisioned resources and returns the first error.
func (m *ProvisionManager) Deprovision(ctx context.Context, resources []model.ProvisionedResource) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var first error
	for _, res := range resources {
		if res.Error != "" {
			continue
		}
		for _, p := range m.provisioners {
			if !p.CanDeprovision(res) {
				continue
			}
			if err := p.Deprovision(ctx, res); err != nil && first == nil {
				first = err
			}
			break
		}
	}
	return first
}

// LocalResourceGenerator defines a local file for File destinations.
type LocalResourceGenerator struct{}

// CanGenerate implements ResourceManifestGenerator.
func (LocalResourceGenerator) CanGenerate(tp *model.TransferProcess) bool {
	return tp.DestinationType() == model.TypeFile || tp.DataDestination.Type() == model.TypeFile
}

// Generate implements ResourceManifestGenerator.
func (LocalResourceGenerator) Generate(tp *model.TransferProcess, _ model.Policy) (*model.ResourceDefinition, error) {
	path := tp.DataDestination.GetString(model.KeyPath)
	if path == "" {
		path = DefaultLocalPath
	}
	return &model.ResourceDefinition{ID: uuid.NewString(), Type: model.ResourceTypeLocal, PathName: path}, nil
}

// LocalResourceProvisioner creates the destination file of a local
// resource, retrying a bounded number of times.
type LocalResourceProvisioner struct {
	maxRetries int
	logger     *logging.ColoredLogger
}

// NewLocalResourceProvisioner creates the provisioner.
func NewLocalResourceProvisioner(maxRetries int, logger *logging.ColoredLogger) *LocalResourceProvisioner {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &LocalResourceProvisioner{maxRetries: maxRetries, logger: logger}
}

// CanProvision implements Provisioner.
func (p *LocalResourceProvisioner) CanProvision(def model.ResourceDefinition) bool {
	return def.Type == model.ResourceTypeLocal
}

// CanDeprovision implements Provisioner.
func (p *LocalResourceProvisioner) CanDeprovision(res model.ProvisionedResource) bool {
	return res.Type == model.ResourceTypeLocal
}

// Provision implements Provisioner.
func (p *LocalResourceProvisioner) Provision(ctx context.Context, def model.ResourceDefinition, _ model.Policy) (model.ProvisionedResource, error) {
	if def.PathName == "" || def.PathName == DefaultLocalPath {
		return model.ProvisionedResource{}, errors.NewValidationError("pathName", "local resource has no concrete path", def.PathName)
	}
	var err error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if err = createFile(def.PathName); err == nil {
			p.logger.ComponentInfo(logging.ComponentTransfer, "Local resource provisioned",
				zap.String("path", def.PathName), zap.Int("attempt", attempt))
			addr := model.NewDataAddress(model.TypeFile).
				Set(model.KeyPath, def.PathName).
				Set(model.KeyFilename, filepath.Base(def.PathName))
			return model.ProvisionedResource{
				ID:           uuid.NewString(),
				DefinitionID: def.ID,
				Type:         model.ResourceTypeLocal,
				DataAddress:  addr,
			}, nil
		}
		p.logger.ComponentWarn(logging.ComponentTransfer, "Local resource provisioning failed",
			zap.String("path", def.PathName), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return model.ProvisionedResource{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return model.ProvisionedResource{}, errors.WithCode(errors.CodeStorageError, "provision "+def.PathName, err)
}

// Deprovision leaves the file in place; it is the transfer's result.
func (p *LocalResourceProvisioner) Deprovision(context.Context, model.ProvisionedResource) error {
	return nil
}

func createFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// StatusChecker reports whether a push transfer has delivered its data.
type StatusChecker interface {
	IsComplete(tp *model.TransferProcess, resources []model.ProvisionedResource) (bool, error)
}

// StatusCheckerFunc adapts a function to StatusChecker.
type StatusCheckerFunc func(tp *model.TransferProcess, resources []model.ProvisionedResource) (bool, error)

// IsComplete implements StatusChecker.
func (f StatusCheckerFunc) IsComplete(tp *model.TransferProcess, resources []model.ProvisionedResource) (bool, error) {
	return f(tp, resources)
}

// StatusCheckerRegistry maps destination types to checkers.
type StatusCheckerRegistry struct {
	mu       sync.RWMutex
	checkers map[string]StatusChecker
}

// NewStatusCheckerRegistry creates a registry with the File checker.
func NewStatusCheckerRegistry() *StatusCheckerRegistry {
	r := &StatusCheckerRegistry{checkers: map[string]StatusChecker{}}
	r.Register(model.TypeFile, StatusCheckerFunc(FileStatusChecker))
	return r
}

// Register sets the checker for a destination type.
func (r *StatusCheckerRegistry) Register(destinationType string, c StatusChecker) {
	r.mu.Lock()
	r.checkers[destinationType] = c
	r.mu.Unlock()
}

// Resolve returns the checker for a destination type, or nil.
func (r *StatusCheckerRegistry) Resolve(destinationType string) StatusChecker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkers[destinationType]
}

// FileStatusChecker completes a transfer once its destination file holds
// data.
func FileStatusChecker(tp *model.TransferProcess, _ []model.ProvisionedResource) (bool, error) {
	path := tp.DataDestination.GetString(model.KeyPath)
	if path == "" {
		return false, nil
	}
	if name := tp.DataDestination.GetString(model.KeyFilename); name != "" && filepath.Base(path) != name {
		path = filepath.Join(path, name)
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir() || info.Size() > 0, nil
}
