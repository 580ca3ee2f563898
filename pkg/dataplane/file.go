package dataplane

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
)

// filePart is a file on disk.
type filePart struct {
	path string
}

func (f filePart) Name() string { return filepath.Base(f.path) }

func (f filePart) Open() (io.ReadCloser, error) { return os.Open(f.path) }

// filePath joins the path and filename properties of a File address.
func filePath(addr model.DataAddress) string {
	path := addr.GetString(model.KeyPath)
	name := addr.GetString(model.KeyFilename)
	if name == "" || filepath.Base(path) == name {
		return path
	}
	return filepath.Join(path, name)
}

// FileSourceFactory reads a file, or every regular file of a directory.
type FileSourceFactory struct{}

// Type implements DataSourceFactory.
func (FileSourceFactory) Type() string { return model.TypeFile }

// ValidateSource implements DataSourceFactory.
func (FileSourceFactory) ValidateSource(addr model.DataAddress) error {
	if filePath(addr) == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// CreateSource implements DataSourceFactory.
func (FileSourceFactory) CreateSource(_ context.Context, msg signaling.DataFlowStartMessage) (DataSource, error) {
	path := filePath(msg.SourceDataAddress)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return &fileSource{paths: []string{path}}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	src := &fileSource{}
	for _, e := range entries {
		if e.Type().IsRegular() {
			src.paths = append(src.paths, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(src.paths)
	return src, nil
}

type fileSource struct {
	paths []string
}

func (s *fileSource) Each(ctx context.Context, fn func(Part) error) error {
	for _, p := range s.paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(filePart{path: p}); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileSource) Close() error { return nil }

// FileSinkFactory writes parts below a destination path. A single part is
// written to the path itself unless the path is an existing directory.
type FileSinkFactory struct{}

// Type implements DataSinkFactory.
func (FileSinkFactory) Type() string { return model.TypeFile }

// ValidateSink implements DataSinkFactory.
func (FileSinkFactory) ValidateSink(addr model.DataAddress) error {
	if filePath(addr) == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// CreateSink implements DataSinkFactory.
func (FileSinkFactory) CreateSink(_ context.Context, msg signaling.DataFlowStartMessage) (DataSink, error) {
	return &fileSink{target: filePath(msg.DestinationDataAddress)}, nil
}

type fileSink struct {
	target  string
	written int
}

func (s *fileSink) Write(_ context.Context, p Part) error {
	dest := s.target
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, p.Name())
	} else if s.written > 0 {
		return fmt.Errorf("destination %s is a file but the source has several parts", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := p.Open()
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	s.written++
	return out.Close()
}

func (s *fileSink) Close() error { return nil }
