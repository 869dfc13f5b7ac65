package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/config"
	"github.com/logflow/eventpipe/pkg/deadletter"
	"github.com/logflow/eventpipe/pkg/graph"
	"github.com/logflow/eventpipe/pkg/pipeline"
	"github.com/logflow/eventpipe/pkg/plugin"
	"github.com/logflow/eventpipe/pkg/plugin/builtin"
	"github.com/logflow/eventpipe/pkg/telemetry"
	"github.com/logflow/eventpipe/pkg/watch"
)

func loadGraph(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline definition: %w", err)
	}
	return graph.Decode(data, path)
}

func buildRegistry() *plugin.Registry {
	r := plugin.NewRegistry()
	builtin.Register(r)
	return r
}

func buildDeadLetters(cfg *config.Config) (deadletter.Store, error) {
	switch cfg.DeadLetter.Backend {
	case "", "none":
		return deadletter.Discard{}, nil
	case "file":
		return deadletter.NewFileStore(cfg.DeadLetter.Path, 0)
	case "redis":
		rc := deadletter.DefaultRedisConfig(cfg.DeadLetter.Addr)
		rc.Key = cfg.DeadLetter.Key
		return deadletter.NewRedisStore(rc)
	}
	return nil, fmt.Errorf("unknown dead letter backend %q", cfg.DeadLetter.Backend)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	g, err := loadGraph(pipelineFile)
	if err != nil {
		return err
	}

	// A full pipeline build compiles every condition and resolves every
	// plugin, so validation catches what a dry start would.
	if _, err := pipeline.New(pipeline.Options{
		Config:      cfg,
		Graph:       g,
		Registry:    buildRegistry(),
		DeadLetters: deadletter.Discard{},
	}); err != nil {
		return err
	}

	fmt.Printf("%s: %d vertices, ok\n", pipelineFile, len(g.Vertices()))
	return nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "eventpipe ", log.LstdFlags)
	if !verbose {
		logger.SetFlags(0)
	}

	if cfg.Telemetry.Enabled {
		otlp := telemetry.DefaultOTLPConfig("eventpipe")
		otlp.Endpoint = cfg.Telemetry.Endpoint
		otlp.ServiceVersion = version
		exporter := telemetry.NewOTLPExporter(otlp)
		shutdown, err := exporter.Init(context.Background())
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer shutdown(context.Background())
	}

	letters, err := buildDeadLetters(cfg)
	if err != nil {
		return err
	}
	defer letters.Close()

	registry := buildRegistry()

	// Signals start an orderly shutdown; a second signal kills the
	// process the usual way because the handler is reset.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// reload is raised by the definition watcher between runs.
	reload := make(chan struct{}, 1)
	if watchFlag {
		watcher, err := watch.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()
		watcher.OnChange = func(path string) error {
			logger.Printf("definition changed: %s", path)
			select {
			case reload <- struct{}{}:
			default:
			}
			return nil
		}
		watcher.OnError = func(path string, err error) {
			logger.Printf("watch error for %q: %v", path, err)
		}
		if err := watcher.Watch(pipelineFile); err != nil {
			return err
		}
		watchCtx, cancelWatch := context.WithCancel(context.Background())
		defer cancelWatch()
		go watcher.Run(watchCtx)
	}

	source := newStdinSource(os.Stdin, logger)
	go source.read()

	for {
		g, err := loadGraph(pipelineFile)
		if err != nil {
			return err
		}

		p, err := pipeline.New(pipeline.Options{
			Config:      cfg,
			Graph:       g,
			Registry:    registry,
			DeadLetters: letters,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		again, err := runOnce(p, source, sigCh, reload, logger)
		if err != nil || !again {
			return err
		}
		logger.Printf("reloading pipeline")
	}
}

// runOnce drives one pipeline instance until shutdown. It reports whether
// the caller should rebuild and run again (definition reload).
func runOnce(p *pipeline.Pipeline, source *stdinSource, sigCh chan os.Signal, reload chan struct{}, logger *log.Logger) (bool, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	feedDone := make(chan struct{})
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	go func() {
		defer close(feedDone)
		source.feed(feedCtx, p)
	}()

	again := false
	eofCh := source.eof
	reloadCh := reload
	for {
		select {
		case sig := <-sigCh:
			logger.Printf("received %s, draining", sig)
			cancel()
		case <-reloadCh:
			again = true
			reloadCh = nil
			cancel()
		case <-eofCh:
			eofCh = nil
			cancel()
		case err := <-done:
			stopFeed()
			<-feedDone
			return again, err
		}
	}
}

// stdinSource turns stdin JSON lines into events. Reading happens once for
// the process lifetime; feed hands events to whichever pipeline instance
// is current.
type stdinSource struct {
	r      io.Reader
	logger *log.Logger
	lines  chan map[string]interface{}
	eof    chan struct{}
}

func newStdinSource(r io.Reader, logger *log.Logger) *stdinSource {
	return &stdinSource{
		r:      r,
		logger: logger,
		lines:  make(chan map[string]interface{}, 256),
		eof:    make(chan struct{}),
	}
}

func (s *stdinSource) read() {
	defer close(s.eof)
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fields := make(map[string]interface{})
		if err := json.Unmarshal(line, &fields); err != nil {
			fields = map[string]interface{}{"message": string(line)}
		}
		s.lines <- fields
	}
	if err := scanner.Err(); err != nil {
		s.logger.Printf("stdin read error: %v", err)
	}
}

func (s *stdinSource) feed(ctx context.Context, p *pipeline.Pipeline) {
	for {
		select {
		case <-ctx.Done():
			return
		case fields, ok := <-s.lines:
			if !ok {
				return
			}
			if err := p.Push(ctx, model.NewEvent(fields)); err != nil {
				if ctx.Err() == nil {
					s.logger.Printf("push failed: %v", err)
				}
				return
			}
		}
	}
}
