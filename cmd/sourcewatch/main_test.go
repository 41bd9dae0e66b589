package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hmgle/sourcewatch/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	tests := []struct {
		name    string
		args    []string
		file    string
		env     map[string]string
		wantErr bool
		check   func(rq *require.Assertions, cfg *config.Config)
	}{
		{
			name: "defaults",
			args: nil,
			check: func(rq *require.Assertions, cfg *config.Config) {
				rq.Equal(config.DefaultTargetURL, cfg.TargetURL)
				rq.Equal(config.DefaultDomain, cfg.Domain)
				rq.True(cfg.DomainFilter)
				rq.True(cfg.Preflight)
				rq.Equal(config.DefaultMaxBodySize, cfg.MaxBodySize)
				rq.Equal(config.FormatPretty, cfg.OutputFormat)
				rq.Equal(config.DefaultCommandTimeout, cfg.CommandTimeout)
			},
		},
		{
			name: "flags and positional url",
			args: []string{"--all", "--headless", "-v", "--no-preflight", "--probe-interval", "5s", "--command-timeout", "3s", "https://rapid-cloud.co/embed-6/x"},
			check: func(rq *require.Assertions, cfg *config.Config) {
				rq.Equal("https://rapid-cloud.co/embed-6/x", cfg.TargetURL)
				rq.False(cfg.DomainFilter)
				rq.True(cfg.Headless)
				rq.False(cfg.Preflight)
				rq.Equal(config.LogLevelDebug, cfg.LogLevel)
				rq.Equal(5*time.Second, cfg.ProbeInterval)
				rq.Equal(3*time.Second, cfg.CommandTimeout)
			},
		},
		{
			name: "file below flags",
			file: `{"domain": "file.test", "max_body_size": 10, "output_format": "csv"}`,
			args: []string{"--format", "json"},
			check: func(rq *require.Assertions, cfg *config.Config) {
				rq.Equal("file.test", cfg.Domain)
				rq.Equal(10, cfg.MaxBodySize)
				rq.Equal(config.FormatJSON, cfg.OutputFormat)
			},
		},
		{
			name: "environment above file",
			file: `{"domain": "file.test"}`,
			env:  map[string]string{"SOURCEWATCH_DOMAIN": "env.test"},
			check: func(rq *require.Assertions, cfg *config.Config) {
				rq.Equal("env.test", cfg.Domain)
			},
		},
		{
			name:    "invalid format",
			args:    []string{"--format", "xml"},
			wantErr: true,
		},
		{
			name:    "invalid url",
			args:    []string{"not a url"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rq := require.New(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cmd := newRootCmd()
			args := tt.args
			if tt.file != "" {
				path := filepath.Join(t.TempDir(), "config.json")
				rq.NoError(os.WriteFile(path, []byte(tt.file), 0o644))
				args = append([]string{"--config", path}, args...)
			}
			rq.NoError(cmd.ParseFlags(args))

			cfg, err := loadConfig(cmd, cmd.Flags().Args())
			if tt.wantErr {
				rq.Error(err)
				return
			}
			rq.NoError(err)
			tt.check(rq, cfg)
		})
	}
}

// journal records shutdown steps across the fakes in call order.
type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(step string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, step)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.steps...)
}

type journalSink struct{ j *journal }

func (s journalSink) Debug(string, ...interface{}) {}
func (s journalSink) Info(string, ...interface{})  {}
func (s journalSink) Error(string, ...interface{}) {}
func (s journalSink) SessionID() string            { return "test" }

func (s journalSink) Warn(format string, args ...interface{}) {
	s.j.add("warn: " + fmt.Sprintf(format, args...))
}

func (s journalSink) Emit(prefix string, _ any) error {
	s.j.add("emit: " + prefix)
	return nil
}

func (s journalSink) Diagnostic(format string, args ...interface{}) {
	s.j.add("diagnostic: " + fmt.Sprintf(format, args...))
}

func (s journalSink) DiagnosticError(format string, args ...interface{}) {
	s.j.add("error: " + fmt.Sprintf(format, args...))
}

func (s journalSink) Close() error {
	s.j.add("close log")
	return nil
}

type fakeLoop struct {
	j    *journal
	done chan struct{}
	// hang keeps Done open after Stop.
	hang bool
}

func (l *fakeLoop) Stop() {
	l.j.add("stop loop")
	if !l.hang {
		close(l.done)
	}
}

func (l *fakeLoop) Done() <-chan struct{} { return l.done }

type fakeBrowser struct{ j *journal }

func (b fakeBrowser) Close() error {
	b.j.add("close browser")
	return context.Canceled
}

func TestShutdownOrder(t *testing.T) {
	j := &journal{}
	loop := &fakeLoop{j: j, done: make(chan struct{})}
	cancelled := false

	shutdown(journalSink{j}, loop, fakeBrowser{j}, time.Second, func() { cancelled = true })

	require.Equal(t, []string{
		"diagnostic: Stopping monitoring",
		"stop loop",
		"close log",
		"close browser",
	}, j.list())
	require.False(t, cancelled)
}

func TestShutdownForcesStuckLoop(t *testing.T) {
	j := &journal{}
	loop := &fakeLoop{j: j, done: make(chan struct{}), hang: true}
	cancelled := false

	start := time.Now()
	shutdown(journalSink{j}, loop, fakeBrowser{j}, 20*time.Millisecond, func() { cancelled = true })

	require.True(t, cancelled)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, []string{
		"diagnostic: Stopping monitoring",
		"stop loop",
		"warn: Forced termination after timeout",
		"close log",
		"close browser",
	}, j.list())
}

func TestAwaitNavigation(t *testing.T) {
	t.Run("loaded", func(t *testing.T) {
		rq := require.New(t)
		j := &journal{}
		signals := make(chan os.Signal, 1)

		sig, interrupted := awaitNavigation(journalSink{j}, "https://site.test/", func(string) error { return nil }, signals)
		rq.False(interrupted)
		rq.Nil(sig)
		rq.Equal([]string{"diagnostic: Page loaded successfully: https://site.test/"}, j.list())
	})

	t.Run("failed", func(t *testing.T) {
		j := &journal{}
		signals := make(chan os.Signal, 1)

		_, interrupted := awaitNavigation(journalSink{j}, "https://site.test/", func(string) error {
			return errors.New("net::ERR_NAME_NOT_RESOLVED")
		}, signals)
		require.False(t, interrupted)
		require.Equal(t, []string{"error: Error loading page: net::ERR_NAME_NOT_RESOLVED"}, j.list())
	})

	t.Run("signal while loading", func(t *testing.T) {
		rq := require.New(t)
		j := &journal{}
		signals := make(chan os.Signal, 1)
		release := make(chan struct{})
		defer close(release)

		signals <- syscall.SIGINT
		sig, interrupted := awaitNavigation(journalSink{j}, "https://site.test/", func(string) error {
			<-release
			return context.Canceled
		}, signals)
		rq.True(interrupted)
		rq.Equal(syscall.SIGINT, sig)
		rq.Empty(j.list())
	})
}
