// Package store persists connector entities in SQL. The same schema runs on
// a local SQLite file (driver "sqlite3") or an rqlite cluster (driver
// "rqlite"). Entities are JSON documents with a few indexed columns; list
// queries filter the documents in memory with model.ApplyQuery.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/rqlite/gorqlite/stdlib"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// DefaultLeaseDuration is used when the config leaves it unset.
const DefaultLeaseDuration = time.Minute

// SQLStore owns the database handle and hands out the repositories.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *logging.ColoredLogger
	lease  time.Duration
	clock  func() time.Time

	assets       *AssetStore
	policies     *PolicyDefinitionStore
	definitions  *ContractDefinitionStore
	negotiations *ContractNegotiationStore
	transfers    *TransferProcessStore
	dataPlanes   *DataPlaneInstanceStore
	dataFlows    *DataFlowStore
	edrs         *EDRStore
}

// Option customizes a store.
type Option func(*SQLStore)

// WithClock replaces time.Now, used for lease expiry.
func WithClock(clock func() time.Time) Option {
	return func(s *SQLStore) { s.clock = clock }
}

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, cfg config.StoreConfig, logger *logging.ColoredLogger, opts ...Option) (*SQLStore, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.Driver, err)
	}

	s := New(db, cfg.Driver, logger, opts...)
	if cfg.LeaseDuration > 0 {
		s.lease = cfg.LeaseDuration
	}
	if err := ApplyMigrations(ctx, db, Migrations(), logger); err != nil {
		db.Close()
		return nil, err
	}
	logger.ComponentInfo(logging.ComponentStore, "Store ready",
		zap.String("driver", cfg.Driver),
		zap.Duration("lease", s.lease),
	)
	return s, nil
}

// New wraps an already migrated database.
func New(db *sql.DB, driver string, logger *logging.ColoredLogger, opts ...Option) *SQLStore {
	s := &SQLStore{
		db:     db,
		driver: driver,
		logger: logger,
		lease:  DefaultLeaseDuration,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.assets = &AssetStore{table: table[model.Asset]{
		s: s, name: "assets", entity: "asset",
		id:       func(a *model.Asset) string { return a.ID },
		columns:  []string{"created_at"},
		values:   func(a *model.Asset) []any { return []any{a.CreatedAt} },
		document: assetDocument,
	}}
	s.policies = &PolicyDefinitionStore{table: table[model.PolicyDefinition]{
		s: s, name: "policy_definitions", entity: "policy definition",
		id:      func(p *model.PolicyDefinition) string { return p.ID },
		columns: []string{"created_at"},
		values:  func(p *model.PolicyDefinition) []any { return []any{p.CreatedAt} },
	}}
	s.definitions = &ContractDefinitionStore{table: table[model.ContractDefinition]{
		s: s, name: "contract_definitions", entity: "contract definition",
		id:      func(d *model.ContractDefinition) string { return d.ID },
		columns: []string{"access_policy_id", "contract_policy_id", "created_at"},
		values: func(d *model.ContractDefinition) []any {
			return []any{d.AccessPolicyID, d.ContractPolicyID, d.CreatedAt}
		},
	}}
	s.negotiations = &ContractNegotiationStore{
		leasedTable: leasedTable[model.ContractNegotiation]{table: table[model.ContractNegotiation]{
			s: s, name: "contract_negotiations", entity: "contract negotiation",
			id:      func(n *model.ContractNegotiation) string { return n.ID },
			columns: []string{"type", "state", "state_timestamp", "correlation_id", "created_at"},
			values: func(n *model.ContractNegotiation) []any {
				return []any{string(n.Type), int(n.State), n.StateTimestamp, n.CorrelationID, n.CreatedAt}
			},
		}},
		agreements: table[model.ContractAgreement]{
			s: s, name: "contract_agreements", entity: "contract agreement",
			id:      func(a *model.ContractAgreement) string { return a.ID },
			columns: []string{"asset_id", "provider_id", "consumer_id", "created_at"},
			values: func(a *model.ContractAgreement) []any {
				return []any{a.AssetID, a.ProviderID, a.ConsumerID, a.SigningDate}
			},
		},
	}
	s.transfers = &TransferProcessStore{leasedTable: leasedTable[model.TransferProcess]{table: table[model.TransferProcess]{
		s: s, name: "transfer_processes", entity: "transfer process",
		id:      func(t *model.TransferProcess) string { return t.ID },
		columns: []string{"type", "state", "state_timestamp", "correlation_id", "contract_id", "created_at"},
		values: func(t *model.TransferProcess) []any {
			return []any{string(t.Type), int(t.State), t.StateTimestamp, t.CorrelationID, t.ContractID, t.CreatedAt}
		},
	}}}
	s.dataPlanes = &DataPlaneInstanceStore{table: table[model.DataPlaneInstance]{
		s: s, name: "data_plane_instances", entity: "data plane instance",
		id:      func(d *model.DataPlaneInstance) string { return d.ID },
		columns: []string{"created_at"},
		values:  func(d *model.DataPlaneInstance) []any { return []any{d.LastActive} },
	}}
	s.dataFlows = &DataFlowStore{table: table[model.DataFlow]{
		s: s, name: "data_flows", entity: "data flow",
		id:      func(f *model.DataFlow) string { return f.ID },
		columns: []string{"process_id", "state", "created_at"},
		values: func(f *model.DataFlow) []any {
			return []any{f.ProcessID, string(f.State), f.CreatedAt}
		},
	}}
	s.edrs = &EDRStore{table: table[model.EDREntry]{
		s: s, name: "edr_entries", entity: "endpoint data reference",
		id:      func(e *model.EDREntry) string { return e.TransferProcessID },
		columns: []string{"agreement_id", "asset_id", "created_at"},
		values: func(e *model.EDREntry) []any {
			return []any{e.AgreementID, e.AssetID, e.CreatedAt}
		},
	}}
	return s
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Driver returns the database driver name.
func (s *SQLStore) Driver() string { return s.driver }

// Ping checks the database connection; used by the readiness check.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Assets() *AssetStore                           { return s.assets }
func (s *SQLStore) PolicyDefinitions() *PolicyDefinitionStore     { return s.policies }
func (s *SQLStore) ContractDefinitions() *ContractDefinitionStore { return s.definitions }
func (s *SQLStore) Negotiations() *ContractNegotiationStore       { return s.negotiations }
func (s *SQLStore) Transfers() *TransferProcessStore              { return s.transfers }
func (s *SQLStore) DataPlanes() *DataPlaneInstanceStore           { return s.dataPlanes }
func (s *SQLStore) DataFlows() *DataFlowStore                     { return s.dataFlows }
func (s *SQLStore) EDRs() *EDRStore                               { return s.edrs }

func (s *SQLStore) nowMillis() int64 { return s.clock().UnixMilli() }
