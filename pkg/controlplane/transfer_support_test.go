package controlplane

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/vault"
)

func TestLocalResourceGeneratorDefaultsPath(t *testing.T) {
	gen := LocalResourceGenerator{}
	tp := &model.TransferProcess{TransferType: "File-PUSH", DataDestination: model.NewDataAddress(model.TypeFile)}
	require.True(t, gen.CanGenerate(tp))

	def, err := gen.Generate(tp, model.Policy{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLocalPath, def.PathName)
	assert.Equal(t, model.ResourceTypeLocal, def.Type)

	assert.False(t, gen.CanGenerate(&model.TransferProcess{TransferType: "HttpData-PULL"}))
}

func TestLocalResourceProvisioner(t *testing.T) {
	ctx := context.Background()
	p := NewLocalResourceProvisioner(2, nil)
	path := filepath.Join(t.TempDir(), "nested", "out.txt")

	res, err := p.Provision(ctx, model.ResourceDefinition{ID: "d1", Type: model.ResourceTypeLocal, PathName: path}, model.Policy{})
	require.NoError(t, err)
	assert.Equal(t, "d1", res.DefinitionID)
	assert.Equal(t, path, res.DataAddress.GetString(model.KeyPath))
	assert.Equal(t, "out.txt", res.DataAddress.GetString(model.KeyFilename))
	_, err = os.Stat(path)
	assert.NoError(t, err, "file created")

	_, err = p.Provision(ctx, model.ResourceDefinition{ID: "d2", Type: model.ResourceTypeLocal, PathName: DefaultLocalPath}, model.Policy{})
	assert.True(t, errors.IsValidation(err), "placeholder path must be rejected, got %v", err)
}

func TestProvisionManagerRecordsFailures(t *testing.T) {
	m := NewProvisionManager()
	m.RegisterProvisioner(NewLocalResourceProvisioner(1, nil))
	manifest := &model.ResourceManifest{Definitions: []model.ResourceDefinition{
		{ID: "ok", Type: model.ResourceTypeLocal, PathName: filepath.Join(t.TempDir(), "a.txt")},
		{ID: "unknown", Type: "cloud"},
	}}

	out := m.Provision(context.Background(), manifest, model.Policy{})
	require.Len(t, out, 2)
	assert.Empty(t, out[0].Error)
	assert.Contains(t, out[1].Error, "no provisioner")
	assert.NoError(t, m.Deprovision(context.Background(), out))
}

func TestFileStatusChecker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	tp := &model.TransferProcess{DataDestination: model.NewDataAddress(model.TypeFile).Set(model.KeyPath, path)}

	done, err := FileStatusChecker(tp, nil)
	require.NoError(t, err)
	assert.False(t, done, "missing file")

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	done, _ = FileStatusChecker(tp, nil)
	assert.False(t, done, "empty file")

	require.NoError(t, os.WriteFile(path, []byte(`{"id":1}`), 0o644))
	done, _ = FileStatusChecker(tp, nil)
	assert.True(t, done)

	dirTp := &model.TransferProcess{DataDestination: model.NewDataAddress(model.TypeFile).Set(model.KeyPath, dir)}
	done, _ = FileStatusChecker(dirTp, nil)
	assert.True(t, done, "directories count as delivered")

	reg := NewStatusCheckerRegistry()
	assert.NotNil(t, reg.Resolve(model.TypeFile))
	assert.Nil(t, reg.Resolve(model.TypeAmazonS3))
}

func TestMarkerFileListener(t *testing.T) {
	dir := t.TempDir()
	obs := NewTransferObservable(nil)
	obs.Register(NewMarkerFileListener(nil))

	tp := &model.TransferProcess{
		ID:              "tp-1",
		State:           model.TransferCompleted,
		DataDestination: model.NewDataAddress(model.TypeFile).Set(model.KeyPath, filepath.Join(dir, "out.txt")),
	}
	obs.notifyState(tp)

	data, err := os.ReadFile(filepath.Join(dir, MarkerFileName))
	require.NoError(t, err)
	assert.Equal(t, "Transfer complete", string(data))
}

type countingListener struct {
	NopTransferListener
	started   int
	completed int
}

func (l *countingListener) Started(*model.TransferProcess)   { l.started++ }
func (l *countingListener) Completed(*model.TransferProcess) { l.completed++ }

type panickingListener struct{ NopTransferListener }

func (panickingListener) Started(*model.TransferProcess) { panic("boom") }

func TestTransferObservableSurvivesPanics(t *testing.T) {
	obs := NewTransferObservable(nil)
	counter := &countingListener{}
	obs.Register(panickingListener{})
	obs.Register(counter)

	obs.notifyState(&model.TransferProcess{State: model.TransferStarted})
	obs.notifyState(&model.TransferProcess{State: model.TransferStarting})
	obs.notifyState(&model.TransferProcess{State: model.TransferCompleted})

	assert.Equal(t, 1, counter.started)
	assert.Equal(t, 1, counter.completed)
}

func TestWatchdogTerminatesStaleTransfers(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now()
	m := NewTransferManager(Dependencies{Store: st, Clock: func() time.Time { return now }}, Settings{
		ParticipantID:      "provider",
		ControlPlaneConfig: config.ControlPlaneConfig{BatchSize: 10},
	}, TransferOptions{})

	stale := &model.TransferProcess{
		ID: "stale", Type: model.Consumer, State: model.TransferStarted, StateCount: 1,
		StateTimestamp: now.Add(-time.Hour).UnixMilli(), TransferType: "HttpData-PULL",
	}
	fresh := &model.TransferProcess{
		ID: "fresh", Type: model.Consumer, State: model.TransferStarted, StateCount: 1,
		StateTimestamp: now.UnixMilli(), TransferType: "HttpData-PULL",
	}
	require.NoError(t, st.Transfers().Create(ctx, stale))
	require.NoError(t, st.Transfers().Create(ctx, fresh))

	w := NewWatchdog(m, time.Second, 10*time.Minute)
	assert.Equal(t, 1, w.RunOnce(ctx))

	got, err := st.Transfers().FindByID(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, model.TransferTerminating, got.State)
	assert.Equal(t, WatchdogReason, got.ErrorDetail)

	got, err = st.Transfers().FindByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, model.TransferStarted, got.State)

	assert.Equal(t, 0, w.RunOnce(ctx), "nothing left to time out")
}

func TestTransferRequestValidate(t *testing.T) {
	base := TransferRequest{CounterPartyAddress: "http://provider/protocol", ContractID: "c1", TransferType: "HttpData-PULL"}
	assert.NoError(t, base.Validate())

	push := base
	push.TransferType = "HttpData-PUSH"
	assert.Error(t, push.Validate(), "push needs a destination")
	push.DataDestination = model.NewDataAddress(model.TypeHTTPData).Set(model.KeyBaseURL, "http://sink")
	assert.NoError(t, push.Validate())

	bad := base
	bad.TransferType = "nonsense"
	assert.Error(t, bad.Validate())
}

// stubFlowController records which transfers it started.
type stubFlowController struct {
	accept  func(*model.TransferProcess) bool
	started []string
}

func (s *stubFlowController) CanHandle(tp *model.TransferProcess) bool { return s.accept(tp) }

func (s *stubFlowController) Start(_ context.Context, tp *model.TransferProcess, _ *model.ContractAgreement) (*FlowResult, error) {
	s.started = append(s.started, tp.ID)
	return &FlowResult{DataPlaneID: "stub"}, nil
}

func (s *stubFlowController) Suspend(context.Context, *model.TransferProcess, string) error {
	return nil
}

func (s *stubFlowController) Terminate(context.Context, *model.TransferProcess, string) error {
	return nil
}

func TestDataFlowManagerUsesFirstMatchingController(t *testing.T) {
	ctx := context.Background()
	pull := &stubFlowController{accept: func(tp *model.TransferProcess) bool { return tp.FlowType() == model.FlowPull }}
	fallback := &stubFlowController{accept: func(*model.TransferProcess) bool { return true }}
	m := NewDataFlowManager(pull)
	m.Register(fallback)

	_, err := m.Start(ctx, &model.TransferProcess{ID: "tp-pull", TransferType: "HttpData-PULL"}, nil)
	require.NoError(t, err)
	_, err = m.Start(ctx, &model.TransferProcess{ID: "tp-push", TransferType: "File-PUSH"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"tp-pull"}, pull.started)
	assert.Equal(t, []string{"tp-push"}, fallback.started)

	_, err = NewDataFlowManager().Start(ctx, &model.TransferProcess{ID: "tp", TransferType: "File-PUSH"}, nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestStaticEndpointFlowController(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemoryVault(nil)
	require.NoError(t, v.StoreSecret(ctx, "kafka-creds", "secret-token"))
	c := NewStaticEndpointFlowController(v, nil)

	tp := &model.TransferProcess{
		ID:           "tp-1",
		ContractID:   "agr-1",
		TransferType: "Kafka-PULL",
		ContentDataAddress: model.NewDataAddress(model.TypeKafka).
			Set("kafka.bootstrap.servers", "localhost:9092").
			Set(model.KeyTopic, "events").
			Set(model.KeyKeyName, "kafka-creds"),
	}
	require.True(t, c.CanHandle(tp))
	assert.False(t, c.CanHandle(&model.TransferProcess{TransferType: "Kafka-PUSH", ContentDataAddress: tp.ContentDataAddress}))

	res, err := c.Start(ctx, tp, nil)
	require.NoError(t, err)
	edr := res.DataAddress
	assert.Equal(t, model.TypeEDR, edr.Type())
	assert.Equal(t, "localhost:9092", edr.GetString(model.KeyEndpoint))
	assert.Equal(t, "secret-token", edr.GetString(model.KeyAuthorization))
	assert.Equal(t, "events", edr.GetString(model.KeyTopic))
	assert.Empty(t, res.DataPlaneID)

	tp.ContentDataAddress = model.NewDataAddress(model.TypeKafka)
	_, err = c.Start(ctx, tp, nil)
	assert.Error(t, err)
}
