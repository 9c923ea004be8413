package remote

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// Command names.
const (
	CmdSetup          = "setup"
	CmdSubmit         = "submit"
	CmdStatus         = "status"
	CmdCancel         = "cancel"
	CmdClean          = "clean"
	CmdUploadFile     = "upload_file"
	CmdDownloadOutput = "download_output"
	CmdPath           = "path"

	CmdObjectStoreExists         = "object_store_exists"
	CmdObjectStoreFileReady      = "object_store_file_ready"
	CmdObjectStoreCreate         = "object_store_create"
	CmdObjectStoreDelete         = "object_store_delete"
	CmdObjectStoreGetData        = "object_store_get_data"
	CmdObjectStoreUpdateFromFile = "object_store_update_from_file"
	CmdObjectStoreGetFilename    = "object_store_get_filename"
	CmdObjectStoreSize           = "object_store_size"
	CmdObjectStoreEmpty          = "object_store_empty"
	CmdObjectStoreUsagePercent   = "object_store_get_store_usage_percent"

	CmdFileAvailable = "file_available"
	CmdCacheRequired = "cache_required"
	CmdCacheInsert   = "cache_insert"
)

// ResponseKind says how a command's result is transferred.
type ResponseKind int

const (
	ResponseJSON ResponseKind = iota
	ResponseFile
)

// Command is a catalog entry: the URL path template below the endpoint's
// base URL and the HTTP method used to invoke it.
type Command struct {
	Name     string
	Path     string
	Method   string
	Response ResponseKind
}

// Placeholders returns the names of the {placeholder}s in the path template.
func (c Command) Placeholders() []string {
	var names []string
	rest := c.Path
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			return names
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return names
		}
		names = append(names, rest[start+1:start+end])
		rest = rest[start+end+1:]
	}
}

// ResolvePath substitutes args into the path template. Values are path
// escaped; a missing placeholder value is an error.
func (c Command) ResolvePath(args Args) (string, error) {
	path := c.Path
	for _, name := range c.Placeholders() {
		v, ok := args[name]
		if !ok || v == "" {
			return "", fmt.Errorf("%w: %s requires %q", core.ErrMissingArgument, c.Name, name)
		}
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(v))
	}
	return path, nil
}

// catalog is read-only after package initialization. Commands without an
// explicit method use GET.
var catalog = buildCatalog([]Command{
	{Name: CmdSetup, Path: "jobs", Method: http.MethodPost},
	{Name: CmdSubmit, Path: "jobs/{job_id}/submit", Method: http.MethodPost},
	{Name: CmdStatus, Path: "jobs/{job_id}/status"},
	{Name: CmdCancel, Path: "jobs/{job_id}/cancel", Method: http.MethodPut},
	{Name: CmdClean, Path: "jobs/{job_id}", Method: http.MethodDelete},
	{Name: CmdUploadFile, Path: "jobs/{job_id}/files", Method: http.MethodPost},
	{Name: CmdDownloadOutput, Path: "jobs/{job_id}/files", Response: ResponseFile},
	{Name: CmdPath, Path: "jobs/{job_id}/files/path"},

	{Name: CmdObjectStoreExists, Path: "objects/{object_id}/exists"},
	{Name: CmdObjectStoreFileReady, Path: "objects/{object_id}/file_ready"},
	{Name: CmdObjectStoreCreate, Path: "objects/{object_id}", Method: http.MethodPost},
	{Name: CmdObjectStoreDelete, Path: "objects/{object_id}", Method: http.MethodDelete},
	{Name: CmdObjectStoreGetData, Path: "objects/{object_id}"},
	{Name: CmdObjectStoreUpdateFromFile, Path: "objects/{object_id}", Method: http.MethodPut},
	{Name: CmdObjectStoreGetFilename, Path: "objects/{object_id}/filename"},
	{Name: CmdObjectStoreSize, Path: "objects/{object_id}/size"},
	{Name: CmdObjectStoreEmpty, Path: "objects/{object_id}/empty"},
	{Name: CmdObjectStoreUsagePercent, Path: "object_store_usage_percent"},

	{Name: CmdFileAvailable, Path: "cache/status"},
	{Name: CmdCacheRequired, Path: "cache", Method: http.MethodPut},
	{Name: CmdCacheInsert, Path: "cache", Method: http.MethodPost},
})

func buildCatalog(cmds []Command) map[string]Command {
	m := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		if c.Method == "" {
			c.Method = http.MethodGet
		}
		m[c.Name] = c
	}
	return m
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Command, bool) {
	c, ok := catalog[name]
	return c, ok
}

// Commands returns every catalog entry sorted by name.
func Commands() []Command {
	out := make([]Command, 0, len(catalog))
	for _, c := range catalog {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
