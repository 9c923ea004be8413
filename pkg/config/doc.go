// Package config loads the job configuration document that describes handler
// processes, execution destinations and job script integrity settings.
//
// Documents may be XML (a <job_conf> root element) or YAML; Load picks the
// decoder from the file extension.
package config
