package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
)

// reprocessMaxDerivatives bounds the "-rN" suffix search so a call that
// has been reprocessed repeatedly fails loudly instead of scanning
// forever.
const reprocessMaxDerivatives = 50

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <call-id>",
	Short: "Re-run a failed call through the pipeline as a new record",
	Long: `Reprocess creates a fresh pending record that points at the failed
call's audio and submits it to the pipeline. The failed record itself is
terminal and stays untouched; the new record carries the original call id
with an -rN suffix.

Examples:
  callinsightctl reprocess call-20260824-0042`,
	Args: cobra.ExactArgs(1),
	RunE: runReprocess,
}

func runReprocess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	callID := args[0]

	record, err := callStore.Get(ctx, callID)
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("call %s not found", callID)
		}
		return err
	}
	if record.Status != call.StatusFailed {
		return fmt.Errorf("call %s is %s; only failed calls can be reprocessed", callID, record.Status)
	}

	for attempt := 2; attempt <= reprocessMaxDerivatives; attempt++ {
		derivedID := fmt.Sprintf("%s-r%d", callID, attempt)
		created, err := orchestrator.Submit(ctx, derivedID, record.AudioRef)
		if err != nil {
			if errors.IsErrorType(err, errors.ErrCallAlreadyExists) {
				continue
			}
			return err
		}

		fmt.Printf("Reprocessing %s as %s (audio %s)\n", callID, created.CallID, created.AudioRef)
		if record.Error != nil {
			fmt.Printf("Original failure: %s stage, %s\n", record.Error.Stage, record.Error.Message)
		}
		return nil
	}
	return fmt.Errorf("call %s already has %d derivative records", callID, reprocessMaxDerivatives-1)
}
