// Package catalog is the federated catalog: a crawler that periodically
// requests the catalogs of the connectors listed in a node directory and
// keeps them in a queryable cache.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// NodeDirectory resolves the connectors to crawl.
type NodeDirectory interface {
	GetAll(ctx context.Context) ([]model.TargetNode, error)
	Insert(ctx context.Context, node model.TargetNode) error
}

// FixedDirectory is an in-memory list of nodes.
type FixedDirectory struct {
	mu    sync.RWMutex
	nodes []model.TargetNode
}

// NewFixedDirectory creates a directory holding nodes.
func NewFixedDirectory(nodes ...model.TargetNode) *FixedDirectory {
	return &FixedDirectory{nodes: append([]model.TargetNode(nil), nodes...)}
}

// GetAll implements NodeDirectory.
func (d *FixedDirectory) GetAll(context.Context) ([]model.TargetNode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.TargetNode(nil), d.nodes...), nil
}

// Insert implements NodeDirectory. A node with the same id is replaced.
func (d *FixedDirectory) Insert(_ context.Context, node model.TargetNode) error {
	if err := validateNode(node); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes = upsertNode(d.nodes, node)
	return nil
}

// FileDirectory reads a JSON array of nodes from a file on every call, so
// edits to the file are picked up by the next crawl.
type FileDirectory struct {
	mu   sync.Mutex
	path string
}

// NewFileDirectory checks that path exists and is a valid participants file.
func NewFileDirectory(path string) (*FileDirectory, error) {
	d := &FileDirectory{path: path}
	if _, err := d.read(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *FileDirectory) read() ([]model.TargetNode, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigError, "read participants file", err)
	}
	var nodes []model.TargetNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, errors.WithCode(errors.CodeConfigError, "parse participants file "+d.path, err)
	}
	return nodes, nil
}

// GetAll implements NodeDirectory.
func (d *FileDirectory) GetAll(context.Context) ([]model.TargetNode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read()
}

// Insert implements NodeDirectory by rewriting the file.
func (d *FileDirectory) Insert(_ context.Context, node model.TargetNode) error {
	if err := validateNode(node); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes, err := d.read()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(upsertNode(nodes, node), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.path, data, 0o644)
}

func validateNode(n model.TargetNode) error {
	if n.ID == "" {
		return errors.NewValidationError("id", "node id is required", nil)
	}
	if n.TargetURL == "" {
		return errors.NewValidationError("url", "node url is required", nil)
	}
	return nil
}

func upsertNode(nodes []model.TargetNode, node model.TargetNode) []model.TargetNode {
	for i := range nodes {
		if nodes[i].ID == node.ID {
			nodes[i] = node
			return nodes
		}
	}
	return append(nodes, node)
}

// NewDirectory builds the directory selected by cfg.
func NewDirectory(cfg config.DirectoryConfig) (NodeDirectory, error) {
	switch cfg.Type {
	case "", "fixed":
		nodes := make([]model.TargetNode, 0, len(cfg.Nodes))
		for _, n := range cfg.Nodes {
			nodes = append(nodes, model.TargetNode{
				Name:               n.Name,
				ID:                 n.ID,
				TargetURL:          n.URL,
				SupportedProtocols: n.SupportedProtocols,
			})
		}
		return NewFixedDirectory(nodes...), nil
	case "file":
		return NewFileDirectory(cfg.File)
	default:
		return nil, fmt.Errorf("unknown node directory type %q", cfg.Type)
	}
}
