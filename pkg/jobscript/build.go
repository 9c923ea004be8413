package jobscript

import (
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/unicode/norm"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// Instrumenter contributes shell snippets that run around the job command,
// typically to collect metrics into the job directory.
type Instrumenter interface {
	PreExecute(workingDirectory string) string
	PostExecute(workingDirectory string) string
}

// BuildOption configures Build.
type BuildOption interface {
	applyBuild(*buildOptions)
}

type buildOptions struct {
	template     string
	instrumenter Instrumenter
}

type buildOptionFunc func(*buildOptions)

func (f buildOptionFunc) applyBuild(o *buildOptions) { f(o) }

// WithTemplate renders with a custom template instead of DefaultTemplate.
// Fields are referenced as {{.Command}}, {{.Extra.name}} and so on.
func WithTemplate(text string) BuildOption {
	return buildOptionFunc(func(o *buildOptions) {
		o.template = text
	})
}

// WithInstrumenter adds the instrumenter's snippets to the instrument
// placeholders.
func WithInstrumenter(i Instrumenter) BuildOption {
	return buildOptionFunc(func(o *buildOptions) {
		o.instrumenter = i
	})
}

// Build renders a job script. It fails with *core.MissingParameterError when
// a required parameter is empty.
func Build(p Params, opts ...BuildOption) (string, error) {
	o := buildOptions{template: DefaultTemplate}
	for _, opt := range opts {
		opt.applyBuild(&o)
	}

	switch {
	case p.WorkingDirectory == "":
		return "", &core.MissingParameterError{Name: "working_directory"}
	case p.Command == "":
		return "", &core.MissingParameterError{Name: "command"}
	case p.ExitCodePath == "":
		return "", &core.MissingParameterError{Name: "exit_code_path"}
	}

	p = p.withDefaults()
	if o.instrumenter != nil {
		p.InstrumentPreCommands = joinNonEmpty(p.InstrumentPreCommands, o.instrumenter.PreExecute(p.WorkingDirectory))
		p.InstrumentPostCommands = joinNonEmpty(p.InstrumentPostCommands, o.instrumenter.PostExecute(p.WorkingDirectory))
	}

	tmpl, err := template.New("job_script").Option("missingkey=zero").Parse(o.template)
	if err != nil {
		return "", fmt.Errorf("jobs: parse job script template: %w", err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, normalize(p)); err != nil {
		return "", fmt.Errorf("jobs: render job script: %w", err)
	}
	return sb.String(), nil
}

// normalize converts every value to NFC and joins the setup commands.
func normalize(p Params) templateData {
	nfc := norm.NFC.String

	env := make([]string, len(p.EnvSetupCommands))
	for i, c := range p.EnvSetupCommands {
		env[i] = nfc(c)
	}
	extra := make(map[string]string, len(p.Extra))
	for k, v := range p.Extra {
		extra[k] = nfc(v)
	}

	return templateData{
		WorkingDirectory:        nfc(p.WorkingDirectory),
		Command:                 nfc(p.Command),
		ExitCodePath:            nfc(p.ExitCodePath),
		Shell:                   nfc(p.Shell),
		Headers:                 nfc(p.Headers),
		EnvSetupCommands:        strings.Join(env, "\n"),
		SlotsStatement:          nfc(p.SlotsStatement),
		MemoryStatement:         nfc(p.MemoryStatement),
		IntegrityInjection:      nfc(p.IntegrityInjection),
		TmpDirCreationStatement: nfc(p.TmpDirCreationStatement),
		InstrumentPreCommands:   nfc(p.InstrumentPreCommands),
		InstrumentPostCommands:  nfc(p.InstrumentPostCommands),
		Extra:                   extra,
	}
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}
