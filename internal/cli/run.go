package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lockstep-ci/lockstep/internal/artifact"
	"github.com/lockstep-ci/lockstep/internal/config"
	"github.com/lockstep-ci/lockstep/internal/credential"
	"github.com/lockstep-ci/lockstep/internal/engine"
	"github.com/lockstep-ci/lockstep/internal/event"
	"github.com/lockstep-ci/lockstep/internal/record"
	"github.com/lockstep-ci/lockstep/internal/tool"
)

var runCmd = &cobra.Command{
	Use:   "run [pipeline.yaml]",
	Short: "Execute a pipeline to completion",
	Long: `Executes every stage of the pipeline over its dependency graph. The run
finishes Succeeded only if every required stage passed; SIGINT or SIGTERM
aborts the run, killing in-flight tools and skipping unstarted stages.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "pipeline.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		logger := newLogger()

		rec, cleanup, err := openRecorder()
		if err != nil {
			return err
		}
		defer cleanup()

		store, err := openStore()
		if err != nil {
			return err
		}
		broker, err := newBroker()
		if err != nil {
			return err
		}
		events := newPublisher(logger)
		defer events.Close()

		eng := engine.New(tool.NewAdapter(&tool.ExecRunner{}), store, broker, rec, events, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		run, err := eng.Run(ctx, cfg)
		if err != nil {
			var derr *engine.DefinitionError
			if errors.As(err, &derr) {
				cmd.SilenceUsage = true
				for _, verr := range derr.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", verr.Error())
				}
				return fmt.Errorf("invalid pipeline definition (%d errors)", len(derr.Errors))
			}
			return err
		}

		printRun(cmd.OutOrStdout(), run)

		if run.Status != engine.RunSucceeded {
			cmd.SilenceUsage = true
			return fmt.Errorf("run #%d %s: %s", run.Number, strings.ToLower(string(run.Status)), run.Reason)
		}
		return nil
	},
}

// printRun renders the per-stage outcome table and the run summary.
func printRun(w io.Writer, run *engine.RunResult) {
	for _, st := range run.Stages {
		icon := "PASS"
		switch st.Status {
		case engine.StageFailed:
			icon = "FAIL"
		case engine.StageSkipped:
			icon = "SKIP"
		}
		line := fmt.Sprintf("[%s] %s", icon, st.Stage)
		if st.Reason != "" {
			line += " — " + st.Reason
		}
		if st.Status != engine.StageSkipped {
			line += fmt.Sprintf(" (%s)", st.FinishedAt.Sub(st.StartedAt).Round(time.Millisecond))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\nRun %s #%d: %s\n", run.Pipeline, run.Number, run.Status)
}

// openRecorder opens and migrates the run log under the state directory.
func openRecorder() (*record.Recorder, func(), error) {
	dir, err := stateDir()
	if err != nil {
		return nil, nil, err
	}
	rec, err := record.Open(filepath.Join(dir, "lockstep.db"))
	if err != nil {
		return nil, nil, err
	}
	if err := rec.Migrate(); err != nil {
		rec.Close()
		return nil, nil, err
	}
	return rec, func() { rec.Close() }, nil
}

// openStore opens the artifact store under the state directory.
func openStore() (*artifact.Store, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	return artifact.NewStore(filepath.Join(dir, "artifacts")), nil
}

// newBroker builds the credential broker from the configured secrets file
// (if any) overlaid with LOCKSTEP_SECRET_<SCOPE>_<KEY> environment entries.
func newBroker() (credential.Broker, error) {
	var scopes map[string]map[string]string

	secretsFile := viper.GetString("secrets_file")
	if secretsFile == "" {
		if dir, err := stateDir(); err == nil {
			secretsFile = filepath.Join(dir, "secrets.yaml")
		}
	}
	if secretsFile != "" {
		data, err := os.ReadFile(secretsFile)
		switch {
		case err == nil:
			scopes, err = credential.LoadSecrets(data)
			if err != nil {
				return nil, fmt.Errorf("load secrets from %s: %w", secretsFile, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read secrets file %s: %w", secretsFile, err)
		}
	}

	scopes = credential.MergeEnvSecrets(scopes, "LOCKSTEP_SECRET", os.Environ())
	return credential.NewFileBroker(scopes), nil
}

// newPublisher emits events to the logger and, when nats_url is set, to NATS.
func newPublisher(logger zerolog.Logger) event.Publisher {
	logPub := event.NewLogPublisher(logger)

	url := viper.GetString("nats_url")
	if url == "" {
		return logPub
	}
	natsPub, err := event.NewNATSPublisher(url, viper.GetString("nats_prefix"), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("event stream degraded to log only")
		return logPub
	}
	return event.Multi(logPub, natsPub)
}
