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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/facebook/dilation/experiment"
	"github.com/facebook/dilation/stats"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/term"
)

var (
	countersAddressFlag string
	countersJSONFlag    bool
)

func init() {
	RootCmd.AddCommand(countersCmd)
	countersCmd.Flags().StringVarP(&countersAddressFlag, "address", "a", fmt.Sprintf("http://localhost:%d", experiment.DefaultConfig().MonitoringPort), "monitoring endpoint of the running experiment")
	countersCmd.Flags().BoolVarP(&countersJSONFlag, "json", "j", false, "print JSON even on a terminal")
}

func colorState(state string) string {
	switch state {
	case experiment.Running.String():
		return color.GreenString(state)
	case experiment.Frozen.String(), experiment.Stopping.String():
		return color.YellowString(state)
	}
	return color.RedString(state)
}

func printCountersJSON(w io.Writer, counters stats.Counters) error {
	b, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func printCountersTable(w io.Writer, info *experiment.Info, counters stats.Counters) {
	if info != nil {
		fmt.Fprintf(w, "state: %s, rounds: %d, active syscalls: %d\n", colorState(info.State), info.Rounds, info.ActiveSyscalls)
	}
	keys := maps.Keys(counters)
	sort.Strings(keys)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"counter", "value"})
	for _, k := range keys {
		table.Append([]string{k, fmt.Sprintf("%d", counters[k])})
	}
	table.Render()
}

func countersRun(w io.Writer, address string, asJSON bool) error {
	counters, err := stats.FetchCounters(address)
	if err != nil {
		return fmt.Errorf("fetching counters: %w", err)
	}
	if asJSON {
		return printCountersJSON(w, counters)
	}
	info := &experiment.Info{}
	if err := stats.FetchInfo(address, info); err != nil {
		log.Warningf("fetching experiment state: %v", err)
		info = nil
	}
	printCountersTable(w, info, counters)
	return nil
}

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Print counters of a running experiment",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		asJSON := countersJSONFlag || !term.IsTerminal(int(os.Stdout.Fd()))
		if err := countersRun(os.Stdout, countersAddressFlag, asJSON); err != nil {
			log.Fatal(err)
		}
	},
}
