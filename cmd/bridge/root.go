package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kstaniek/sysmex-astm-bridge/internal/astm/record"
	"github.com/kstaniek/sysmex-astm-bridge/internal/hl7translate"
	"github.com/kstaniek/sysmex-astm-bridge/internal/mapping"
)

// newRootCommand composes the bridge CLI, grounded on the pack's cobra
// root-command pattern (pkgs/cli/root.go): a root carrying the shared
// config flags, a serve subcommand running the long-lived service, and
// lab27/lab28/lab29 one-shot subcommands that exercise the translator
// against a file for operational debugging, without opening any socket.
// The lab28 subcommand only prints the translated ASTM block; a live order
// actually reaches the analyzer through serve's "POST /lab28" HTTP endpoint
// (internal/coordinator.StartHTTP), which drives the real connection and
// returns the ACK^R22.
func newRootCommand() (*cobra.Command, *flagValues) {
	root := &cobra.Command{
		Use:   "bridge",
		Short: "ASTM/HL7 bridge between a Sysmex analyzer and a laboratory information system",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("please select a command (serve, lab27, lab28, lab29, version)")
		},
	}
	fv := bindConfigFlags(root.PersistentFlags())

	root.AddCommand(newServeCommand(root, fv))
	root.AddCommand(newLAB27Command())
	root.AddCommand(newLAB28Command())
	root.AddCommand(newLAB29Command(root, fv))
	root.AddCommand(newVersionCommand())
	return root, fv
}

func newServeCommand(root *cobra.Command, fv *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge: listen for (or dial) the analyzer and relay LAB-27/28/29 transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(root.PersistentFlags(), fv)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func newLAB27Command() *cobra.Command {
	return &cobra.Command{
		Use:   "lab27 <astm-file>",
		Short: "Translate an ASTM worklist query (LAB-27) to HL7 QBP^Q11 and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			recs := record.ParseMessage(string(raw))
			hl7, ok := hl7translate.BuildQBPQ11(recs, hl7translate.DefaultEndpoints(), debugTimestamp(), "DEBUG1")
			if !ok {
				return errors.New("no Q record found in input")
			}
			fmt.Println(hl7)
			return nil
		},
	}
}

func newLAB29Command(root *cobra.Command, fv *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "lab29 <astm-file>",
		Short: "Translate an ASTM result message (LAB-29) to HL7 OUL^R22 and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(root.PersistentFlags(), fv)
			if err != nil {
				return err
			}
			var tbl *mapping.Table
			if cfg.MappingPath != "" {
				tbl, err = mapping.Load(cfg.MappingPath)
				if err != nil {
					return err
				}
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			recs := record.ParseMessage(string(raw))
			sid := hl7translate.SpecimenIDFromASTM(recs)
			if hl7translate.IsBackgroundCheck(sid) {
				fmt.Println("L|1|Y (background check: no upstream call would be made)")
				return nil
			}
			hl7 := hl7translate.BuildOULR22(recs, tbl, hl7translate.DefaultEndpoints(), debugTimestamp(), "DEBUG1")
			fmt.Println(hl7)
			return nil
		},
	}
}

func newLAB28Command() *cobra.Command {
	return &cobra.Command{
		Use:   "lab28 <hl7-oml-file>",
		Short: "Translate an HL7 OML^O33 order download to the ASTM H/P/O/L block and print it (offline; use serve's POST /lab28 to actually deliver one)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			sid, _ := hl7translate.SpecimenIDFromOML(raw)
			for _, rec := range hl7translate.BuildASTMOrderBlock(sid) {
				fmt.Println(rec)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("sysmex-bridge %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}

func debugTimestamp() string { return time.Now().UTC().Format("20060102150405") }
