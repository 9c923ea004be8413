package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-remote-jobs/pkg/config"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

func newLocal(t *testing.T, opts ...AppOption) (Interface, *fakeManager) {
	t.Helper()
	m := newFakeManager(t.TempDir())
	iface, err := New(Destination{Kind: TransportLocal, App: NewApp(m, opts...)})
	require.NoError(t, err)
	return iface, m
}

func TestLocalInterface_SetupSubmitStatus(t *testing.T) {
	iface, m := newLocal(t)
	ctx := context.Background()

	setup, err := Decode[SetupResult](iface.Execute(ctx, CmdSetup, Args{"job_id": "j1"}))
	require.NoError(t, err)
	assert.Equal(t, "j1", setup.JobID)
	assert.Equal(t, "/", setup.SystemProperties.Separator)

	launch, err := EncodeJSON(LaunchConfig{JobScript: "#!/bin/sh\ntrue\n"})
	require.NoError(t, err)
	ack, err := Decode[Ack](iface.Execute(ctx, CmdSubmit, Args{"job_id": "j1"}, WithData(launch)))
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Contains(t, m.submitted, "j1")

	status, err := Decode[StatusResult](iface.Execute(ctx, CmdStatus, Args{"job_id": "j1"}))
	require.NoError(t, err)
	assert.True(t, status.Complete)
	require.NotNil(t, status.ReturnCode)
	assert.Equal(t, 0, *status.ReturnCode)
}

func TestLocalInterface_SubmitTwice(t *testing.T) {
	iface, _ := newLocal(t)
	ctx := context.Background()
	launch, _ := EncodeJSON(LaunchConfig{JobScript: "#!/bin/sh\n"})

	_, err := iface.Execute(ctx, CmdSubmit, Args{"job_id": "j1"}, WithData(launch))
	require.NoError(t, err)
	_, err = iface.Execute(ctx, CmdSubmit, Args{"job_id": "j1"}, WithData(launch))
	assert.ErrorIs(t, err, core.ErrAlreadySubmitted)
}

func TestLocalInterface_SubmitRequiresScript(t *testing.T) {
	iface, _ := newLocal(t)

	_, err := iface.Execute(context.Background(), CmdSubmit, Args{"job_id": "j1"}, WithData([]byte(`{}`)))
	assert.ErrorIs(t, err, core.ErrMissingArgument)
}

func TestLocalInterface_UploadAndDownload(t *testing.T) {
	iface, _ := newLocal(t)
	ctx := context.Background()
	dir := t.TempDir()

	in := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(in, []byte("hello"), 0o644))

	staged, err := Decode[PathResult](iface.Execute(ctx, CmdUploadFile,
		Args{"job_id": "j1", "name": "in.txt", "type": string(KindOutput)}, WithInputPath(in)))
	require.NoError(t, err)
	assert.FileExists(t, staged.Path)

	out := filepath.Join(dir, "copy", "out.txt")
	data, err := iface.Execute(ctx, CmdDownloadOutput, Args{"job_id": "j1", "name": "in.txt"}, WithOutputPath(out))
	require.NoError(t, err)
	assert.Nil(t, data)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	data, err = iface.Execute(ctx, CmdDownloadOutput, Args{"job_id": "j1", "name": "in.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLocalInterface_DownloadMissing(t *testing.T) {
	iface, _ := newLocal(t)

	_, err := iface.Execute(context.Background(), CmdDownloadOutput, Args{"job_id": "j1", "name": "nope"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalInterface_UnknownCommand(t *testing.T) {
	iface, _ := newLocal(t)

	_, err := iface.Execute(context.Background(), "reboot", nil)
	var uc *core.UnsupportedCommandError
	require.True(t, errors.As(err, &uc))
	assert.Equal(t, "local", uc.Transport)
}

func TestLocalInterface_ObjectStoreNotConfigured(t *testing.T) {
	iface, _ := newLocal(t)

	_, err := iface.Execute(context.Background(), CmdObjectStoreExists, Args{"object_id": "1"})
	var uc *core.UnsupportedCommandError
	require.True(t, errors.As(err, &uc))
	assert.Equal(t, CmdObjectStoreExists, uc.Command)
}

func TestLocalInterface_ObjectStore(t *testing.T) {
	iface, _ := newLocal(t, WithObjectStore(newMemStore()))
	ctx := context.Background()

	exists, err := Decode[bool](iface.Execute(ctx, CmdObjectStoreExists, Args{"object_id": "5"}))
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = iface.Execute(ctx, CmdObjectStoreCreate, Args{"object_id": "5"})
	require.NoError(t, err)
	empty, err := Decode[bool](iface.Execute(ctx, CmdObjectStoreEmpty, Args{"object_id": "5"}))
	require.NoError(t, err)
	assert.True(t, empty)

	_, err = iface.Execute(ctx, CmdObjectStoreUpdateFromFile, Args{"object_id": "5"}, WithData([]byte("0123456789")))
	require.NoError(t, err)

	size, err := Decode[int64](iface.Execute(ctx, CmdObjectStoreSize, Args{"object_id": "5"}))
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	data, err := Decode[[]byte](iface.Execute(ctx, CmdObjectStoreGetData,
		Args{"object_id": "5", "start": "2", "count": "3"}))
	require.NoError(t, err)
	assert.Equal(t, []byte("234"), data)

	pct, err := Decode[float64](iface.Execute(ctx, CmdObjectStoreUsagePercent, nil))
	require.NoError(t, err)
	assert.InDelta(t, 12.5, pct, 0.001)

	deleted, err := Decode[bool](iface.Execute(ctx, CmdObjectStoreDelete, Args{"object_id": "5"}))
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = iface.Execute(ctx, CmdObjectStoreSize, Args{"object_id": "5"})
	assert.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestLocalInterface_GetDataBadCount(t *testing.T) {
	iface, _ := newLocal(t, WithObjectStore(newMemStore()))

	_, err := iface.Execute(context.Background(), CmdObjectStoreGetData, Args{"object_id": "1", "count": "x"})
	assert.ErrorIs(t, err, core.ErrMissingArgument)
}

func TestLocalInterface_UnknownManager(t *testing.T) {
	m := newFakeManager(t.TempDir())
	iface := NewLocal(NewApp(m), "gpu")

	_, err := iface.Execute(context.Background(), CmdStatus, Args{"job_id": "1"})
	assert.ErrorIs(t, err, core.ErrUnknownManager)
}

func TestLocalInterface_NamedManager(t *testing.T) {
	def := newFakeManager(t.TempDir())
	gpu := newFakeManager(t.TempDir())
	iface := NewLocal(NewApp(def, WithManager("gpu", gpu)), "gpu")

	setup, err := Decode[SetupResult](iface.Execute(context.Background(), CmdSetup, Args{"job_id": "1"}))
	require.NoError(t, err)
	assert.Contains(t, setup.WorkingDirectory, gpu.root)
}

func TestApp_ManagerNames(t *testing.T) {
	app := NewApp(newFakeManager(t.TempDir()), WithManager("b", nil), WithManager("a", nil))
	assert.Equal(t, []string{"_default_", "a", "b"}, app.ManagerNames())

	_, err := app.Manager("a")
	assert.ErrorIs(t, err, core.ErrUnknownManager)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 200, HTTPStatus(nil))
	assert.Equal(t, 400, HTTPStatus(core.ErrMissingArgument))
	assert.Equal(t, 403, HTTPStatus(core.ErrInvalidToken))
	assert.Equal(t, 404, HTTPStatus(os.ErrNotExist))
	assert.Equal(t, 409, HTTPStatus(core.ErrAlreadySubmitted))
	assert.Equal(t, 501, HTTPStatus(&core.UnsupportedCommandError{Command: "x"}))
	assert.Equal(t, 500, HTTPStatus(errors.New("boom")))
}

func TestDestinationFromConfig(t *testing.T) {
	app := NewApp(newFakeManager(t.TempDir()))

	dest, err := DestinationFromConfig(config.DestinationConfig{
		ID: "r", Runner: config.RunnerRemote, URL: "host:8913", PrivateToken: "t", Timeout: 1.5,
	}, app)
	require.NoError(t, err)
	assert.Equal(t, TransportHTTP, dest.Kind)
	assert.Equal(t, "t", dest.PrivateToken)
	assert.Equal(t, int64(1500), dest.Timeout.Milliseconds())

	dest, err = DestinationFromConfig(config.DestinationConfig{ID: "r", Runner: config.RunnerRemote}, app)
	require.NoError(t, err)
	assert.Equal(t, TransportLocal, dest.Kind)
	assert.Same(t, app, dest.App)

	_, err = DestinationFromConfig(config.DestinationConfig{ID: "l", Runner: config.RunnerLocal}, app)
	assert.ErrorIs(t, err, core.ErrUnknownDestination)
}

func TestNew_LocalRequiresApp(t *testing.T) {
	_, err := New(Destination{Kind: TransportLocal})
	assert.ErrorIs(t, err, core.ErrUnknownDestination)
}
