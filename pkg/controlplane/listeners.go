package controlplane

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// TransferProcessListener is notified around transfer state changes.
// Pre hooks run before the new state is saved, the others after.
type TransferProcessListener interface {
	Initiated(tp *model.TransferProcess)
	Provisioned(tp *model.TransferProcess)
	Requested(tp *model.TransferProcess)
	PreStarted(tp *model.TransferProcess)
	Started(tp *model.TransferProcess)
	Suspended(tp *model.TransferProcess)
	Completed(tp *model.TransferProcess)
	Terminated(tp *model.TransferProcess)
	Deprovisioned(tp *model.TransferProcess)
}

// NopTransferListener implements every hook as a no-op; embed it to
// override only some.
type NopTransferListener struct{}

func (NopTransferListener) Initiated(*model.TransferProcess)     {}
func (NopTransferListener) Provisioned(*model.TransferProcess)   {}
func (NopTransferListener) Requested(*model.TransferProcess)     {}
func (NopTransferListener) PreStarted(*model.TransferProcess)    {}
func (NopTransferListener) Started(*model.TransferProcess)       {}
func (NopTransferListener) Suspended(*model.TransferProcess)     {}
func (NopTransferListener) Completed(*model.TransferProcess)     {}
func (NopTransferListener) Terminated(*model.TransferProcess)    {}
func (NopTransferListener) Deprovisioned(*model.TransferProcess) {}

// TransferObservable fans hooks out to registered listeners.
type TransferObservable struct {
	mu        sync.RWMutex
	listeners []TransferProcessListener
	logger    *logging.ColoredLogger
}

// NewTransferObservable creates an observable without listeners.
func NewTransferObservable(logger *logging.ColoredLogger) *TransferObservable {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &TransferObservable{logger: logger}
}

// Register adds a listener.
func (o *TransferObservable) Register(l TransferProcessListener) {
	o.mu.Lock()
	o.listeners = append(o.listeners, l)
	o.mu.Unlock()
}

// notify calls hook on every listener. A panicking listener is logged and
// skipped.
func (o *TransferObservable) notify(tp *model.TransferProcess, hook func(TransferProcessListener, *model.TransferProcess)) {
	o.mu.RLock()
	listeners := append([]TransferProcessListener(nil), o.listeners...)
	o.mu.RUnlock()
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.ComponentError(logging.ComponentTransfer, "Transfer listener panicked",
						zap.String("transfer", tp.ID), zap.Any("panic", r))
				}
			}()
			hook(l, tp)
		}()
	}
}

// notifyState calls the post hook matching the state tp is in.
func (o *TransferObservable) notifyState(tp *model.TransferProcess) {
	var hook func(TransferProcessListener, *model.TransferProcess)
	switch tp.State {
	case model.TransferInitial:
		hook = TransferProcessListener.Initiated
	case model.TransferProvisioned:
		hook = TransferProcessListener.Provisioned
	case model.TransferRequested:
		hook = TransferProcessListener.Requested
	case model.TransferStarted:
		hook = TransferProcessListener.Started
	case model.TransferSuspended:
		hook = TransferProcessListener.Suspended
	case model.TransferCompleted:
		hook = TransferProcessListener.Completed
	case model.TransferTerminated:
		hook = TransferProcessListener.Terminated
	case model.TransferDeprovisioned:
		hook = TransferProcessListener.Deprovisioned
	default:
		return
	}
	o.notify(tp, hook)
}

// LoggingListener logs when a transfer is about to start.
type LoggingListener struct {
	NopTransferListener
	logger *logging.ColoredLogger
}

// NewLoggingListener creates the listener.
func NewLoggingListener(logger *logging.ColoredLogger) *LoggingListener {
	return &LoggingListener{logger: logger}
}

// PreStarted implements TransferProcessListener.
func (l *LoggingListener) PreStarted(tp *model.TransferProcess) {
	l.logger.ComponentInfo(logging.ComponentTransfer, "TransferProcessStartedListener received STARTED event",
		zap.String("transfer", tp.ID),
		zap.String("asset", tp.AssetID),
	)
}

// MarkerFileName is written next to completed File destinations.
const MarkerFileName = "marker.txt"

// MarkerFileListener writes a marker file into the directory of a completed
// File destination.
type MarkerFileListener struct {
	NopTransferListener
	logger *logging.ColoredLogger
}

// NewMarkerFileListener creates the listener.
func NewMarkerFileListener(logger *logging.ColoredLogger) *MarkerFileListener {
	return &MarkerFileListener{logger: logger}
}

// Completed implements TransferProcessListener.
func (l *MarkerFileListener) Completed(tp *model.TransferProcess) {
	if tp.DataDestination.Type() != model.TypeFile {
		return
	}
	path := tp.DataDestination.GetString(model.KeyPath)
	if path == "" {
		return
	}
	marker := filepath.Join(filepath.Dir(path), MarkerFileName)
	if err := os.WriteFile(marker, []byte("Transfer complete"), 0o644); err != nil {
		l.logger.ComponentWarn(logging.ComponentTransfer, "Failed to write marker file",
			zap.String("path", marker), zap.Error(err))
		return
	}
	l.logger.ComponentInfo(logging.ComponentTransfer, "Marker file written",
		zap.String("transfer", tp.ID), zap.String("path", marker))
}
