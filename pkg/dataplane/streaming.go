package dataplane

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
)

// StreamingSourceFactory watches the sourceFolder of an HttpStreaming
// address. Every file created or written there becomes a part. The source
// never ends on its own; its flow stays STARTED until terminated.
type StreamingSourceFactory struct {
	logger *logging.ColoredLogger
}

// NewStreamingSourceFactory creates the factory.
func NewStreamingSourceFactory(logger *logging.ColoredLogger) *StreamingSourceFactory {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &StreamingSourceFactory{logger: logger}
}

// Type implements DataSourceFactory.
func (f *StreamingSourceFactory) Type() string { return model.TypeHTTPStreaming }

// ValidateSource implements DataSourceFactory.
func (f *StreamingSourceFactory) ValidateSource(addr model.DataAddress) error {
	folder := addr.GetString(model.KeySourceFolder)
	if folder == "" {
		return fmt.Errorf("sourceFolder is required")
	}
	info, err := os.Stat(folder)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("sourceFolder %s is not a directory", folder)
	}
	return nil
}

// CreateSource implements DataSourceFactory. The watch starts here so files
// appearing right after the flow starts are not missed.
func (f *StreamingSourceFactory) CreateSource(_ context.Context, msg signaling.DataFlowStartMessage) (DataSource, error) {
	folder := msg.SourceDataAddress.GetString(model.KeySourceFolder)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(folder); err != nil {
		w.Close()
		return nil, err
	}
	f.logger.ComponentInfo(logging.ComponentDataPlane, "Watching source folder",
		zap.String("folder", folder), zap.String("process_id", msg.ProcessID))
	return &streamingSource{watcher: w, folder: folder, logger: f.logger}, nil
}

type streamingSource struct {
	watcher *fsnotify.Watcher
	folder  string
	logger  *logging.ColoredLogger
}

func (s *streamingSource) Each(ctx context.Context, fn func(Part) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
				continue
			}
			data, err := os.ReadFile(ev.Name)
			if err != nil {
				s.logger.ComponentWarn(logging.ComponentDataPlane, "Failed to read streamed file",
					zap.String("file", ev.Name), zap.Error(err))
				continue
			}
			if err := fn(BytesPart{PartName: filepath.Base(ev.Name), Data: data}); err != nil {
				return err
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.ComponentWarn(logging.ComponentDataPlane, "Folder watch error",
				zap.String("folder", s.folder), zap.Error(err))
		}
	}
}

func (s *streamingSource) Close() error { return s.watcher.Close() }
