package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/jobscript"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
	"github.com/jdziat/simple-remote-jobs/pkg/remote/manager"
	"github.com/jdziat/simple-remote-jobs/pkg/remote/objectstore"
)

const testToken = "s3cr3t"

type fixture struct {
	app   *remote.App
	local remote.Interface
	http  remote.Interface
	url   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	m, err := manager.New(filepath.Join(root, "staging"),
		manager.WithWriteOptions(jobscript.WithoutIntegrityCheck()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	gpu, err := manager.New(filepath.Join(root, "gpu"),
		manager.WithWriteOptions(jobscript.WithoutIntegrityCheck()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gpu.Close() })

	cache, err := manager.NewFileCache(filepath.Join(root, "cache"))
	require.NoError(t, err)
	store, err := objectstore.NewDiskStore(filepath.Join(root, "objects"))
	require.NoError(t, err)

	app := remote.NewApp(m,
		remote.WithManager("gpu", gpu),
		remote.WithFileCache(cache),
		remote.WithObjectStore(store),
	)

	ts := httptest.NewServer(New(app, WithPrivateToken(testToken)).Handler())
	t.Cleanup(ts.Close)

	httpIface, err := remote.New(remote.Destination{Kind: remote.TransportHTTP, URL: ts.URL, PrivateToken: testToken})
	require.NoError(t, err)
	localIface, err := remote.New(remote.Destination{Kind: remote.TransportLocal, App: app})
	require.NoError(t, err)

	return &fixture{app: app, local: localIface, http: httpIface, url: ts.URL}
}

func keys(t *testing.T, data []byte) []string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m), string(data))
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestEchoPath(t *testing.T) {
	assert.Equal(t, "jobs/:job_id/files/path", echoPath("jobs/{job_id}/files/path"))
	assert.Equal(t, "cache/status", echoPath("cache/status"))
	assert.Equal(t, "objects/:object_id", echoPath("objects/{object_id}"))
}

func TestTransportSymmetry_JobLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run := func(iface remote.Interface, jobID string) map[string][]byte {
		out := make(map[string][]byte)

		setupRaw, err := iface.Execute(ctx, remote.CmdSetup, remote.Args{"job_id": jobID})
		require.NoError(t, err)
		out[remote.CmdSetup] = setupRaw
		setup, err := remote.Decode[remote.SetupResult](setupRaw, nil)
		require.NoError(t, err)

		in := filepath.Join(t.TempDir(), "input.txt")
		require.NoError(t, os.WriteFile(in, []byte("abc"), 0o644))
		out[remote.CmdUploadFile], err = iface.Execute(ctx, remote.CmdUploadFile,
			remote.Args{"job_id": jobID, "name": "input.txt"}, remote.WithInputPath(in))
		require.NoError(t, err)

		p := jobscript.NewParams(setup.WorkingDirectory,
			"cp "+filepath.Join(setup.InputsDirectory, "input.txt")+" "+filepath.Join(setup.OutputsDirectory, "out.txt"),
			filepath.Join(setup.WorkingDirectory, "ec"))
		p.Shell = "/bin/sh"
		script, err := jobscript.Build(p)
		require.NoError(t, err)
		launch, err := remote.EncodeJSON(remote.LaunchConfig{JobScript: script, ExitCodePath: "ec"})
		require.NoError(t, err)
		out[remote.CmdSubmit], err = iface.Execute(ctx, remote.CmdSubmit, remote.Args{"job_id": jobID}, remote.WithData(launch))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			st, err := remote.Decode[remote.StatusResult](iface.Execute(ctx, remote.CmdStatus, remote.Args{"job_id": jobID}))
			return err == nil && st.Complete
		}, 10*time.Second, 20*time.Millisecond)
		out[remote.CmdStatus], err = iface.Execute(ctx, remote.CmdStatus, remote.Args{"job_id": jobID})
		require.NoError(t, err)

		out[remote.CmdPath], err = iface.Execute(ctx, remote.CmdPath, remote.Args{"job_id": jobID, "name": "out.txt"})
		require.NoError(t, err)

		dst := filepath.Join(t.TempDir(), "downloaded.txt")
		_, err = iface.Execute(ctx, remote.CmdDownloadOutput, remote.Args{"job_id": jobID, "name": "out.txt"}, remote.WithOutputPath(dst))
		require.NoError(t, err)
		out[remote.CmdDownloadOutput], err = os.ReadFile(dst)
		require.NoError(t, err)

		out[remote.CmdClean], err = iface.Execute(ctx, remote.CmdClean, remote.Args{"job_id": jobID})
		require.NoError(t, err)
		return out
	}

	viaLocal := run(f.local, "local-job")
	viaHTTP := run(f.http, "http-job")

	for _, cmd := range []string{remote.CmdSetup, remote.CmdUploadFile, remote.CmdSubmit, remote.CmdStatus, remote.CmdPath, remote.CmdClean} {
		assert.Equal(t, keys(t, viaLocal[cmd]), keys(t, viaHTTP[cmd]), cmd)
	}
	assert.Equal(t, "abc", string(viaLocal[remote.CmdDownloadOutput]))
	assert.Equal(t, viaLocal[remote.CmdDownloadOutput], viaHTTP[remote.CmdDownloadOutput])

	var ls, hs remote.StatusResult
	require.NoError(t, json.Unmarshal(viaLocal[remote.CmdStatus], &ls))
	require.NoError(t, json.Unmarshal(viaHTTP[remote.CmdStatus], &hs))
	assert.Equal(t, ls.Status, hs.Status)
	assert.Equal(t, ls.ReturnCode, hs.ReturnCode)
}

func TestTransportSymmetry_ObjectStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run := func(iface remote.Interface, id string) []string {
		var out []string
		call := func(cmd string, args remote.Args, opts ...remote.ExecOption) {
			data, err := iface.Execute(ctx, cmd, args, opts...)
			require.NoError(t, err, cmd)
			out = append(out, string(data))
		}
		call(remote.CmdObjectStoreExists, remote.Args{"object_id": id})
		call(remote.CmdObjectStoreCreate, remote.Args{"object_id": id})
		call(remote.CmdObjectStoreEmpty, remote.Args{"object_id": id})
		call(remote.CmdObjectStoreUpdateFromFile, remote.Args{"object_id": id}, remote.WithData([]byte("hello world")))
		call(remote.CmdObjectStoreFileReady, remote.Args{"object_id": id})
		call(remote.CmdObjectStoreSize, remote.Args{"object_id": id})
		call(remote.CmdObjectStoreGetData, remote.Args{"object_id": id, "start": "6", "count": "5"})
		call(remote.CmdObjectStoreDelete, remote.Args{"object_id": id})
		return out
	}

	assert.Equal(t, run(f.local, "1"), run(f.http, "2"))
}

func TestTransportSymmetry_BinaryObjectData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := []byte{0x00, 0xff, 0xfe, 0x80, 0x61}

	for id, iface := range map[string]remote.Interface{"10": f.local, "11": f.http} {
		_, err := iface.Execute(ctx, remote.CmdObjectStoreUpdateFromFile, remote.Args{"object_id": id}, remote.WithData(payload))
		require.NoError(t, err)

		data, err := remote.Decode[[]byte](iface.Execute(ctx, remote.CmdObjectStoreGetData, remote.Args{"object_id": id}))
		require.NoError(t, err)
		assert.Equal(t, payload, data, id)

		tail, err := remote.Decode[[]byte](iface.Execute(ctx, remote.CmdObjectStoreGetData,
			remote.Args{"object_id": id, "start": "1", "count": "3"}))
		require.NoError(t, err)
		assert.Equal(t, payload[1:4], tail, id)
	}
}

func TestTransportSymmetry_Cache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run := func(iface remote.Interface, path string) []string {
		args := remote.Args{"ip": "10.0.0.5", "path": path}
		var out []string
		for _, cmd := range []string{remote.CmdFileAvailable, remote.CmdCacheRequired, remote.CmdCacheRequired} {
			data, err := iface.Execute(ctx, cmd, args)
			require.NoError(t, err)
			out = append(out, string(data))
		}
		_, err := iface.Execute(ctx, remote.CmdCacheInsert, args, remote.WithData([]byte("cached")))
		require.NoError(t, err)
		st, err := remote.Decode[remote.CacheStatus](iface.Execute(ctx, remote.CmdFileAvailable, args))
		require.NoError(t, err)
		assert.True(t, st.Ready)
		assert.Equal(t, manager.Token("10.0.0.5", path), st.Token)
		return out[1:]
	}

	assert.Equal(t, run(f.local, "/a"), run(f.http, "/b"))
}

func TestTransportSymmetry_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, iface := range []remote.Interface{f.local, f.http} {
		_, err := iface.Execute(ctx, remote.CmdSetup, remote.Args{"job_id": "staged"})
		require.NoError(t, err)
	}

	tests := []struct {
		name string
		cmd  string
		args remote.Args
		want error
	}{
		{"unknown job", remote.CmdStatus, remote.Args{"job_id": "nope"}, core.ErrJobNotFound},
		{"missing object", remote.CmdObjectStoreSize, remote.Args{"object_id": "404"}, core.ErrObjectNotFound},
		{"missing argument", remote.CmdPath, remote.Args{"job_id": "staged"}, core.ErrMissingArgument},
		{"invalid file name", remote.CmdPath, remote.Args{"job_id": "staged", "name": "../escape"}, core.ErrInvalidFileName},
		{"missing output", remote.CmdDownloadOutput, remote.Args{"job_id": "staged", "name": "absent.dat"}, os.ErrNotExist},
		{"cache miss", remote.CmdUploadFile, remote.Args{"job_id": "staged", "name": "in.dat", "cache_token": manager.Token("h", "/never")}, core.ErrCacheMiss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, localErr := f.local.Execute(ctx, tt.cmd, tt.args)
			_, httpErr := f.http.Execute(ctx, tt.cmd, tt.args)
			assert.ErrorIs(t, localErr, tt.want)
			assert.ErrorIs(t, httpErr, tt.want)
		})
	}
}

func TestUploadFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	args := remote.Args{"ip": "h", "path": "/data/in.dat"}

	_, err := f.http.Execute(ctx, remote.CmdCacheInsert, args, remote.WithData([]byte("from cache")))
	require.NoError(t, err)
	st, err := remote.Decode[remote.CacheStatus](f.http.Execute(ctx, remote.CmdFileAvailable, args))
	require.NoError(t, err)

	_, err = f.http.Execute(ctx, remote.CmdSetup, remote.Args{"job_id": "j"})
	require.NoError(t, err)
	staged, err := remote.Decode[remote.PathResult](f.http.Execute(ctx, remote.CmdUploadFile,
		remote.Args{"job_id": "j", "name": "in.dat", "cache_token": st.Token}))
	require.NoError(t, err)

	data, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, "from cache", string(data))
}

func TestServer_RejectsBadToken(t *testing.T) {
	f := newFixture(t)

	iface, err := remote.New(remote.Destination{Kind: remote.TransportHTTP, URL: f.url, PrivateToken: "wrong"})
	require.NoError(t, err)

	_, err = iface.Execute(context.Background(), remote.CmdSetup, remote.Args{"job_id": "x"})
	var te *core.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusForbidden, te.StatusCode)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestServer_NamedManager(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gpu, err := remote.New(remote.Destination{Kind: remote.TransportHTTP, URL: f.url, PrivateToken: testToken, Manager: "gpu"})
	require.NoError(t, err)
	setup, err := remote.Decode[remote.SetupResult](gpu.Execute(ctx, remote.CmdSetup, remote.Args{"job_id": "g1"}))
	require.NoError(t, err)
	assert.Contains(t, setup.WorkingDirectory, string(filepath.Separator)+"gpu"+string(filepath.Separator))

	missing, err := remote.New(remote.Destination{Kind: remote.TransportHTTP, URL: f.url, PrivateToken: testToken, Manager: "tpu"})
	require.NoError(t, err)
	_, err = missing.Execute(ctx, remote.CmdSetup, remote.Args{"job_id": "t1"})
	var te *core.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
}

func TestServer_ErrorStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		cmd    string
		args   remote.Args
		status int
	}{
		{"unknown job", remote.CmdStatus, remote.Args{"job_id": "nope"}, http.StatusNotFound},
		{"missing object", remote.CmdObjectStoreSize, remote.Args{"object_id": "404"}, http.StatusNotFound},
		{"missing name", remote.CmdPath, remote.Args{"job_id": "nope"}, http.StatusBadRequest},
		{"bad get_data count", remote.CmdObjectStoreGetData, remote.Args{"object_id": "1", "count": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.http.Execute(ctx, tt.cmd, tt.args)
			var te *core.TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.status, te.StatusCode)
		})
	}
}

func TestServer_StartStops(t *testing.T) {
	app := remote.NewApp(nil)
	srv := New(app, WithGracefulPeriod(time.Second))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Start(ctx, func(s *Server) error { return s.Serve(ln) })
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/object_store_usage_percent")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotImplemented
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
