package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// LocalInterface executes commands by calling an in-process App, with the
// same catalog and argument shapes as HTTPInterface.
type LocalInterface struct {
	app     *App
	manager string
	logger  *slog.Logger
}

// NewLocal returns a LocalInterface addressing the named manager of app.
func NewLocal(app *App, manager string) *LocalInterface {
	return &LocalInterface{app: app, manager: manager, logger: slog.Default()}
}

func (l *LocalInterface) Execute(ctx context.Context, command string, args Args, opts ...ExecOption) ([]byte, error) {
	cmd, ok := Lookup(command)
	if !ok || !l.app.Supports(command) {
		return nil, &core.UnsupportedCommandError{Command: command, Transport: TransportLocal.String()}
	}
	o := newExecOptions(opts)

	if _, err := cmd.ResolvePath(args); err != nil {
		return nil, err
	}

	req := Request{Manager: l.manager, Args: copyArgs(args)}
	switch {
	case o.inputPath != "":
		f, err := os.Open(o.inputPath)
		if err != nil {
			return nil, fmt.Errorf("jobs: open input %s: %w", o.inputPath, err)
		}
		defer f.Close()
		req.Body = f
	case o.hasData:
		req.Body = bytes.NewReader(o.data)
	}

	resp, err := l.app.Handle(ctx, command, req)
	if err != nil {
		if errors.Is(err, core.ErrUnsupportedCommand) {
			return nil, &core.UnsupportedCommandError{Command: command, Transport: TransportLocal.String()}
		}
		return nil, err
	}

	if resp.File == "" {
		return resp.JSON, nil
	}
	if o.outputPath != "" {
		if err := copyFile(o.outputPath, resp.File); err != nil {
			return nil, err
		}
		return nil, nil
	}
	data, err := os.ReadFile(resp.File)
	if err != nil {
		return nil, fmt.Errorf("jobs: read %s: %w", resp.File, err)
	}
	return data, nil
}

func copyArgs(args Args) Args {
	out := make(Args, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("jobs: open %s: %w", src, err)
	}
	defer in.Close()
	if err := writeFile(dst, in); err != nil {
		return fmt.Errorf("jobs: write %s: %w", dst, err)
	}
	return nil
}
