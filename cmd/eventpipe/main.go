// EventPipe - declarative event pipeline engine.
// Compiles YAML pipeline definitions into per-worker dataset graphs and
// runs them over batches of events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	pipelineFile string
	configFile   string
	watchFlag    bool
	verbose      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventpipe",
	Short: "EventPipe - run declarative event pipelines",
	Long: `EventPipe compiles a YAML pipeline definition into a dataset graph and
runs it with a pool of workers. Events are read from stdin as JSON lines
and flow through conditional stages into sinks.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline, reading events from stdin",
	Long: `Run a pipeline definition. Events are read from stdin as JSON lines;
lines that do not parse as JSON become events with a single "message"
field. The pipeline drains and flushes on EOF or SIGINT/SIGTERM.

Examples:
  eventpipe run -p pipeline.yaml
  eventpipe run -p pipeline.yaml -c eventpipe.yaml
  tail -f app.log | eventpipe run -p pipeline.yaml --watch`,
	RunE: runPipeline,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compile a pipeline definition without running it",
	Long: `Validate and compile a pipeline definition: the graph is checked for
unresolved edges and cycles, every condition is compiled, and every
plugin reference is resolved.`,
	RunE: runValidate,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Engine config file")

	runCmd.Flags().StringVarP(&pipelineFile, "pipeline", "p", "", "Pipeline definition file (required)")
	runCmd.Flags().BoolVar(&watchFlag, "watch", false, "Reload the pipeline when the definition changes")
	runCmd.MarkFlagRequired("pipeline")

	validateCmd.Flags().StringVarP(&pipelineFile, "pipeline", "p", "", "Pipeline definition file (required)")
	validateCmd.MarkFlagRequired("pipeline")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
