package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

type routeFunc func(ctx context.Context, a *App, req Request) (Response, error)

// routes maps every catalog command to its implementation.
var routes = map[string]routeFunc{
	CmdSetup:          setupRoute,
	CmdSubmit:         submitRoute,
	CmdStatus:         statusRoute,
	CmdCancel:         cancelRoute,
	CmdClean:          cleanRoute,
	CmdUploadFile:     uploadFileRoute,
	CmdDownloadOutput: downloadOutputRoute,
	CmdPath:           pathRoute,

	CmdObjectStoreExists:         objectBoolRoute(ObjectStore.Exists),
	CmdObjectStoreFileReady:      objectBoolRoute(ObjectStore.FileReady),
	CmdObjectStoreCreate:         objectCreateRoute,
	CmdObjectStoreDelete:         objectBoolRoute(ObjectStore.Delete),
	CmdObjectStoreGetData:        objectGetDataRoute,
	CmdObjectStoreUpdateFromFile: objectUpdateRoute,
	CmdObjectStoreGetFilename:    objectFilenameRoute,
	CmdObjectStoreSize:           objectSizeRoute,
	CmdObjectStoreEmpty:          objectBoolRoute(ObjectStore.Empty),
	CmdObjectStoreUsagePercent:   objectUsageRoute,

	CmdFileAvailable: fileAvailableRoute,
	CmdCacheRequired: cacheRequiredRoute,
	CmdCacheInsert:   cacheInsertRoute,
}

func (r Request) require(name string) (string, error) {
	v := r.Args[name]
	if v == "" {
		return "", fmt.Errorf("%w: %q", core.ErrMissingArgument, name)
	}
	return v, nil
}

func (r Request) kind(def FileKind) FileKind {
	if k := r.Args["type"]; k != "" {
		return FileKind(k)
	}
	return def
}

func (r Request) body() io.Reader {
	if r.Body == nil {
		return eofReader{}
	}
	return r.Body
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func jsonResponse(v any) (Response, error) {
	b, err := EncodeJSON(v)
	if err != nil {
		return Response{}, err
	}
	return Response{JSON: b}, nil
}

func jobRoute(fn func(ctx context.Context, m JobManager, jobID string, req Request) (any, error)) routeFunc {
	return func(ctx context.Context, a *App, req Request) (Response, error) {
		m, err := a.Manager(req.Manager)
		if err != nil {
			return Response{}, err
		}
		jobID, err := req.require("job_id")
		if err != nil {
			return Response{}, err
		}
		v, err := fn(ctx, m, jobID, req)
		if err != nil {
			return Response{}, err
		}
		return jsonResponse(v)
	}
}

var (
	setupRoute = jobRoute(func(ctx context.Context, m JobManager, jobID string, req Request) (any, error) {
		return m.Setup(ctx, jobID, req.Args["tool_id"])
	})

	submitRoute = jobRoute(func(ctx context.Context, m JobManager, jobID string, req Request) (any, error) {
		var launch LaunchConfig
		if err := json.NewDecoder(req.body()).Decode(&launch); err != nil {
			return nil, fmt.Errorf("%w: launch config: %v", core.ErrMissingArgument, err)
		}
		if launch.JobScript == "" {
			return nil, fmt.Errorf("%w: %q", core.ErrMissingArgument, "job_script")
		}
		if err := m.Submit(ctx, jobID, launch); err != nil {
			return nil, err
		}
		return Ack{JobID: jobID, OK: true}, nil
	})

	statusRoute = jobRoute(func(ctx context.Context, m JobManager, jobID string, _ Request) (any, error) {
		return m.Status(ctx, jobID)
	})

	cancelRoute = jobRoute(func(ctx context.Context, m JobManager, jobID string, _ Request) (any, error) {
		if err := m.Cancel(ctx, jobID); err != nil {
			return nil, err
		}
		return Ack{JobID: jobID, OK: true}, nil
	})

	cleanRoute = jobRoute(func(ctx context.Context, m JobManager, jobID string, _ Request) (any, error) {
		if err := m.Clean(ctx, jobID); err != nil {
			return nil, err
		}
		return Ack{JobID: jobID, OK: true}, nil
	})

	pathRoute = jobRoute(func(ctx context.Context, m JobManager, jobID string, req Request) (any, error) {
		name, err := req.require("name")
		if err != nil {
			return nil, err
		}
		p, err := m.FilePath(ctx, jobID, req.kind(KindOutput), name)
		if err != nil {
			return nil, err
		}
		return PathResult{Path: p}, nil
	})
)

// uploadFileRoute stages the request body, or the cached file named by the
// cache_token argument.
func uploadFileRoute(ctx context.Context, a *App, req Request) (Response, error) {
	return jobRoute(func(ctx context.Context, m JobManager, jobID string, req Request) (any, error) {
		name, err := req.require("name")
		if err != nil {
			return nil, err
		}

		body := req.body()
		if token := req.Args["cache_token"]; token != "" {
			if a.cache == nil {
				return nil, fmt.Errorf("%w: no file cache configured", core.ErrUnsupportedCommand)
			}
			rc, err := a.cache.Open(ctx, token)
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			body = rc
		}

		p, err := m.StageFile(ctx, jobID, req.kind(KindInput), name, body)
		if err != nil {
			return nil, err
		}
		return PathResult{Path: p}, nil
	})(ctx, a, req)
}

func downloadOutputRoute(ctx context.Context, a *App, req Request) (Response, error) {
	m, err := a.Manager(req.Manager)
	if err != nil {
		return Response{}, err
	}
	jobID, err := req.require("job_id")
	if err != nil {
		return Response{}, err
	}
	name, err := req.require("name")
	if err != nil {
		return Response{}, err
	}
	p, err := m.FilePath(ctx, jobID, req.kind(KindOutput), name)
	if err != nil {
		return Response{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return Response{}, err
	}
	if info.IsDir() {
		return Response{}, fmt.Errorf("%w: %q is a directory", core.ErrInvalidFileName, name)
	}
	return Response{File: p}, nil
}

func objectStore(a *App) (ObjectStore, error) {
	if a.store == nil {
		return nil, fmt.Errorf("%w: no object store configured", core.ErrUnsupportedCommand)
	}
	return a.store, nil
}

func objectRoute(fn func(ctx context.Context, s ObjectStore, id string, req Request) (any, error)) routeFunc {
	return func(ctx context.Context, a *App, req Request) (Response, error) {
		s, err := objectStore(a)
		if err != nil {
			return Response{}, err
		}
		id, err := req.require("object_id")
		if err != nil {
			return Response{}, err
		}
		v, err := fn(ctx, s, id, req)
		if err != nil {
			return Response{}, err
		}
		return jsonResponse(v)
	}
}

func objectBoolRoute(method func(ObjectStore, context.Context, string) (bool, error)) routeFunc {
	return objectRoute(func(ctx context.Context, s ObjectStore, id string, _ Request) (any, error) {
		return method(s, ctx, id)
	})
}

var (
	objectCreateRoute = objectRoute(func(ctx context.Context, s ObjectStore, id string, _ Request) (any, error) {
		if err := s.Create(ctx, id); err != nil {
			return nil, err
		}
		return Ack{OK: true}, nil
	})

	objectGetDataRoute = objectRoute(func(ctx context.Context, s ObjectStore, id string, req Request) (any, error) {
		start, err := intArg(req, "start", 0)
		if err != nil {
			return nil, err
		}
		count, err := intArg(req, "count", -1)
		if err != nil {
			return nil, err
		}
		// []byte encodes as base64, so binary content survives JSON.
		return s.GetData(ctx, id, start, count)
	})

	objectUpdateRoute = objectRoute(func(ctx context.Context, s ObjectStore, id string, req Request) (any, error) {
		if err := s.UpdateFromFile(ctx, id, req.body()); err != nil {
			return nil, err
		}
		return Ack{OK: true}, nil
	})

	objectFilenameRoute = objectRoute(func(ctx context.Context, s ObjectStore, id string, _ Request) (any, error) {
		return s.GetFilename(ctx, id)
	})

	objectSizeRoute = objectRoute(func(ctx context.Context, s ObjectStore, id string, _ Request) (any, error) {
		return s.Size(ctx, id)
	})
)

func objectUsageRoute(ctx context.Context, a *App, _ Request) (Response, error) {
	s, err := objectStore(a)
	if err != nil {
		return Response{}, err
	}
	pct, err := s.UsagePercent(ctx)
	if err != nil {
		return Response{}, err
	}
	return jsonResponse(pct)
}

func intArg(req Request, name string, def int64) (int64, error) {
	v := req.Args[name]
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", core.ErrMissingArgument, name)
	}
	return n, nil
}

func cacheRoute(fn func(ctx context.Context, c FileCache, ip, path string, req Request) (any, error)) routeFunc {
	return func(ctx context.Context, a *App, req Request) (Response, error) {
		if a.cache == nil {
			return Response{}, fmt.Errorf("%w: no file cache configured", core.ErrUnsupportedCommand)
		}
		ip, err := req.require("ip")
		if err != nil {
			return Response{}, err
		}
		path, err := req.require("path")
		if err != nil {
			return Response{}, err
		}
		v, err := fn(ctx, a.cache, ip, path, req)
		if err != nil {
			return Response{}, err
		}
		return jsonResponse(v)
	}
}

var (
	fileAvailableRoute = cacheRoute(func(ctx context.Context, c FileCache, ip, path string, _ Request) (any, error) {
		return c.FileAvailable(ctx, ip, path)
	})

	cacheRequiredRoute = cacheRoute(func(ctx context.Context, c FileCache, ip, path string, _ Request) (any, error) {
		return c.CacheRequired(ctx, ip, path)
	})

	cacheInsertRoute = cacheRoute(func(ctx context.Context, c FileCache, ip, path string, req Request) (any, error) {
		if err := c.CacheInsert(ctx, ip, path, req.body()); err != nil {
			return nil, err
		}
		return Ack{OK: true}, nil
	})
)
