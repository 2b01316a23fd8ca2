// Command runner loads a stream XML description, starts it, and serves
// its status over HTTP until interrupted (spec.md §1 "many streams may
// run in a runner process"). Mirrors the teacher's cmd/cmd root-command
// wiring, without the generalized config-file loading spec.md's scope
// excludes (no viper).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/builder"
	"github.com/sidecar-radar/pipeline/statusapi"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	recordingRoot string
	statusAddr    string
	initialGoal   string
)

func main() {
	root := &cobra.Command{
		Use:   "runner <stream.xml>",
		Short: "Load and run a radar pipeline stream from an XML description",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	root.Flags().StringVar(&recordingRoot, "recording-root", "", "recording base directory, passed to the builder as Options.RecordingRoot; recorders write under the directory named in each recording-state-change request, not under this one")
	root.Flags().StringVar(&statusAddr, "status-addr", ":8090", "address the status HTTP server listens on")
	root.Flags().StringVar(&initialGoal, "goal", "run", "processing state every task is driven to once the stream starts (e.g. run, calibrate, stop); the status API's /streams/:id/goal endpoint can change it afterward")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})

	errHandler := func(e *pipeline.Error) {
		log.WithFields(logrus.Fields{
			"stream_id": e.StreamID,
			"task_id":   e.TaskID,
			"task_type": e.TaskType,
		}).Error(e.Err)
	}

	goal, ok := pipeline.ParseProcessingState(initialGoal)
	if !ok {
		return fmt.Errorf("runner: unknown --goal %q", initialGoal)
	}

	stream, starters, err := builder.Load(args[0], builder.Options{
		Log:           log,
		OnError:       errHandler,
		RecordingRoot: recordingRoot,
	})
	if err != nil {
		return fmt.Errorf("runner: load %s: %w", args[0], err)
	}

	status := statusapi.New()
	status.Register(stream)

	go func() {
		if err := status.Listen(statusAddr); err != nil {
			log.WithError(err).Warn("status server stopped")
		}
	}()

	if err := builder.Start(stream, starters); err != nil {
		return fmt.Errorf("runner: start %s: %w", args[0], err)
	}
	stream.SetGoal(goal)

	log.WithFields(logrus.Fields{"stream": stream.ID(), "goal": goal}).Info("stream running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	stream.Shutdown()

	time.Sleep(5 * time.Second)
	_ = status.Shutdown()

	return nil
}
