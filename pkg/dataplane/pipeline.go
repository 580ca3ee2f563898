// Package dataplane moves the bytes of a transfer. A PipelineService opens a
// source for the flow's source address and copies each of its parts into a
// sink for the destination address. The Manager runs flows on a bounded
// worker pool, hands out endpoint data references for PULL flows and reports
// results back to the control plane.
package dataplane

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
)

// Part is one unit of data produced by a source.
type Part interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// DataSource yields the parts of a flow. Each calls fn for every part in
// order and stops at the first error. Streaming sources keep going until
// ctx is done.
type DataSource interface {
	Each(ctx context.Context, fn func(Part) error) error
	Close() error
}

// DataSink receives parts.
type DataSink interface {
	Write(ctx context.Context, p Part) error
	Close() error
}

// DataSourceFactory creates sources for one address type.
type DataSourceFactory interface {
	Type() string
	ValidateSource(addr model.DataAddress) error
	CreateSource(ctx context.Context, msg signaling.DataFlowStartMessage) (DataSource, error)
}

// DataSinkFactory creates sinks for one address type.
type DataSinkFactory interface {
	Type() string
	ValidateSink(addr model.DataAddress) error
	CreateSink(ctx context.Context, msg signaling.DataFlowStartMessage) (DataSink, error)
}

// PipelineService connects sources to sinks by address type.
type PipelineService struct {
	mu      sync.RWMutex
	sources map[string]DataSourceFactory
	sinks   map[string]DataSinkFactory
	logger  *logging.ColoredLogger
}

// NewPipelineService creates an empty pipeline.
func NewPipelineService(logger *logging.ColoredLogger) *PipelineService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PipelineService{
		sources: map[string]DataSourceFactory{},
		sinks:   map[string]DataSinkFactory{},
		logger:  logger,
	}
}

// RegisterSource adds a source factory, replacing one of the same type.
func (p *PipelineService) RegisterSource(f DataSourceFactory) {
	p.mu.Lock()
	p.sources[f.Type()] = f
	p.mu.Unlock()
}

// RegisterSink adds a sink factory, replacing one of the same type.
func (p *PipelineService) RegisterSink(f DataSinkFactory) {
	p.mu.Lock()
	p.sinks[f.Type()] = f
	p.mu.Unlock()
}

// SourceTypes lists the registered source types.
func (p *PipelineService) SourceTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.sources))
	for t := range p.sources {
		out = append(out, t)
	}
	return out
}

// SinkTypes lists the registered sink types.
func (p *PipelineService) SinkTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.sinks))
	for t := range p.sinks {
		out = append(out, t)
	}
	return out
}

func (p *PipelineService) factories(msg signaling.DataFlowStartMessage) (DataSourceFactory, DataSinkFactory, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src, ok := p.sources[msg.SourceDataAddress.Type()]
	if !ok {
		return nil, nil, errors.NewValidationError("sourceDataAddress", "no source for type "+msg.SourceDataAddress.Type(), nil)
	}
	if msg.FlowType != model.FlowPush {
		return src, nil, nil
	}
	sink, ok := p.sinks[msg.DestinationDataAddress.Type()]
	if !ok {
		return nil, nil, errors.NewValidationError("destinationDataAddress", "no sink for type "+msg.DestinationDataAddress.Type(), nil)
	}
	return src, sink, nil
}

// Validate checks that the pipeline can serve msg. PULL flows only need a
// source.
func (p *PipelineService) Validate(msg signaling.DataFlowStartMessage) error {
	if err := msg.Validate(); err != nil {
		return errors.NewValidationError("dataflow", err.Error(), nil)
	}
	src, sink, err := p.factories(msg)
	if err != nil {
		return err
	}
	if err := src.ValidateSource(msg.SourceDataAddress); err != nil {
		return errors.NewValidationError("sourceDataAddress", err.Error(), nil)
	}
	if sink != nil {
		if err := sink.ValidateSink(msg.DestinationDataAddress); err != nil {
			return errors.NewValidationError("destinationDataAddress", err.Error(), nil)
		}
	}
	return nil
}

// Transfer copies every part of the source into the sink.
func (p *PipelineService) Transfer(ctx context.Context, msg signaling.DataFlowStartMessage) error {
	if err := p.Validate(msg); err != nil {
		return err
	}
	if msg.FlowType != model.FlowPush {
		return errors.NewValidationError("flowType", "only PUSH flows are transferred by the pipeline", msg.FlowType)
	}
	srcFactory, sinkFactory, err := p.factories(msg)
	if err != nil {
		return err
	}
	source, err := srcFactory.CreateSource(ctx, msg)
	if err != nil {
		return fmt.Errorf("open %s source: %w", srcFactory.Type(), err)
	}
	defer source.Close()
	sink, err := sinkFactory.CreateSink(ctx, msg)
	if err != nil {
		return fmt.Errorf("open %s sink: %w", sinkFactory.Type(), err)
	}

	parts := 0
	err = source.Each(ctx, func(part Part) error {
		if err := sink.Write(ctx, part); err != nil {
			return fmt.Errorf("write part %s: %w", part.Name(), err)
		}
		parts++
		p.logger.ComponentDebug(logging.ComponentDataPlane, "Part transferred",
			zap.String("process_id", msg.ProcessID),
			zap.String("part", part.Name()),
		)
		return nil
	})
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	p.logger.ComponentInfo(logging.ComponentDataPlane, "Transfer finished",
		zap.String("process_id", msg.ProcessID),
		zap.String("source", srcFactory.Type()),
		zap.String("sink", sinkFactory.Type()),
		zap.Int("parts", parts),
	)
	return nil
}

// BytesPart is an in-memory part.
type BytesPart struct {
	PartName string
	Data     []byte
}

// Name implements Part.
func (b BytesPart) Name() string { return b.PartName }

// Open implements Part.
func (b BytesPart) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

// readerPart wraps a stream that can be opened once.
type readerPart struct {
	name string
	body io.ReadCloser
	once sync.Once
}

func (r *readerPart) Name() string { return r.name }

func (r *readerPart) Open() (io.ReadCloser, error) {
	var body io.ReadCloser
	r.once.Do(func() { body = r.body })
	if body == nil {
		return nil, fmt.Errorf("part %s already consumed", r.name)
	}
	return body, nil
}
