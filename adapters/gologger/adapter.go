// Package gologger bridges the glog loggers bankauth resolves to the logger
// contract go-job workers expect.
package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const JobLoggerName = "bankauth.jobs"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// JobLogger resolves the logger the token warm-up and prune jobs write
// through, named JobLoggerName when a provider is available.
func JobLogger(provider glog.LoggerProvider, logger glog.Logger) job.Logger {
	_, resolved := Resolve(JobLoggerName, provider, logger)
	return ToJobLogger(resolved)
}
