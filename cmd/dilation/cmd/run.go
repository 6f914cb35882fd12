/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"

	"github.com/coreos/go-systemd/daemon"
	"github.com/facebook/dilation/experiment"
	"github.com/facebook/dilation/intercept"
	"github.com/facebook/dilation/proctree"
	"github.com/facebook/dilation/stats"
	"github.com/facebook/dilation/tracer"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var (
	runConfigFlag         string
	runLanesFlag          int
	runPolicyFlag         string
	runMonitoringPortFlag int
	runRoundsFlag         int
)

func init() {
	RootCmd.AddCommand(runCmd)
	defaults := experiment.DefaultConfig()
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "path to the experiment config")
	runCmd.Flags().IntVar(&runLanesFlag, "lanes", defaults.Lanes, "number of worker lanes")
	runCmd.Flags().StringVar(&runPolicyFlag, "policy", defaults.Policy, fmt.Sprintf("budget policy, %q or %q", tracer.PolicySingle, tracer.PolicyMulti))
	runCmd.Flags().IntVar(&runMonitoringPortFlag, "monitoringport", defaults.MonitoringPort, "port to start monitoring http server on, prometheus metrics are served on the next one")
	runCmd.Flags().IntVar(&runRoundsFlag, "rounds", 0, "stop after this many rounds, 0 runs until interrupted")
}

// drive advances the experiment: a fixed number of rounds, or freely until ctx is done
func drive(ctx context.Context, exp *experiment.Experiment, rounds int) error {
	if rounds > 0 {
		return exp.ProgressFixedRounds(rounds)
	}
	if err := exp.Start(); err != nil {
		return err
	}
	if err := exp.ResumeUnconstrained(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func runExperiment(cfg *experiment.Config, rounds int) error {
	if len(cfg.Tracers) == 0 {
		return experiment.ErrNoTracers
	}
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stopSignals()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	// a failing server stops the experiment like a signal does
	context.AfterFunc(ctx, stopSignals)

	st := stats.NewJSONStats()
	table := intercept.NewTable(intercept.Real())
	exp := experiment.New(table, st)
	table.Bind(intercept.NewLayer(exp, intercept.Real(), st))
	st.SetInfo(func() any { return exp.Info() })

	eg.Go(func() error {
		return st.Start(ctx, cfg.MonitoringPort, cfg.MetricsAggregationWindow)
	})
	exporter := stats.NewPrometheusExporter(cfg.MonitoringPort+1, cfg.MonitoringPort, cfg.MetricsAggregationWindow)
	eg.Go(func() error {
		return exporter.Start(ctx)
	})

	if err := exp.Initialize(cfg); err != nil {
		return err
	}
	tree := proctree.New()
	var reps []*proctree.Representative
	defer func() {
		for _, rep := range reps {
			if err := rep.Thaw(); err != nil {
				log.Errorf("thawing: %v", err)
			}
		}
	}()
	for _, tc := range cfg.Tracers {
		root, err := tree.Process(tc.PID)
		if err != nil {
			_ = exp.Cleanup()
			return err
		}
		tr, err := exp.AddTracer(tc, root)
		if err != nil {
			_ = exp.Cleanup()
			return err
		}
		rep := proctree.NewRepresentative(root, cfg.Policy == tracer.PolicyMulti)
		reps = append(reps, rep)
		if err := rep.Freeze(); err != nil {
			_ = exp.Cleanup()
			return fmt.Errorf("freezing %s: %w", tr, err)
		}
		eg.Go(func() error {
			return exp.ServeTracer(ctx, tr, func(ctx context.Context, runLog string) error {
				err := rep.Run(ctx, runLog)
				if n := tree.Prune(); n > 0 {
					log.Debugf("%s: dropped %d exited tasks", tr, n)
				}
				return err
			})
		})
	}

	if err := exp.SynchronizeAndFreeze(len(cfg.Tracers)); err != nil {
		_ = exp.Cleanup()
		return err
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warningf("notifying systemd: %v", err)
	}
	log.Infof("experiment frozen with %d tracers", len(cfg.Tracers))

	progress := make(chan error, 1)
	go func() {
		progress <- drive(sigCtx, exp, rounds)
	}()
	var err error
	select {
	case err = <-progress:
	case <-sigCtx.Done():
		log.Info("interrupted")
	}
	if err != nil && !errors.Is(err, experiment.ErrStopped) {
		log.Errorf("driving experiment: %v", err)
	}
	log.Infof("stopping after %d rounds", exp.Rounds())
	if serr := exp.RequestStop(); serr != nil {
		log.Errorf("stopping experiment: %v", serr)
	}
	cancel()
	if werr := eg.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		log.Errorf("waiting for workers: %v", werr)
	}
	return err
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Freeze the configured process groups and run them round by round",
	Run: func(c *cobra.Command, _ []string) {
		ConfigureVerbosity()
		setFlags := map[string]bool{}
		for _, name := range []string{"lanes", "policy", "monitoringport"} {
			setFlags[name] = c.Flags().Changed(name)
		}
		cfg, err := experiment.PrepareConfig(runConfigFlag, runLanesFlag, runPolicyFlag, runMonitoringPortFlag, setFlags)
		if err != nil {
			log.Fatal(err)
		}
		if err := runExperiment(cfg, runRoundsFlag); err != nil {
			log.Fatal(err)
		}
	},
}
