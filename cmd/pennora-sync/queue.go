package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	apperrors "github.com/Andival-Sei/pennora/backend/internal/errors"
	"github.com/Andival-Sei/pennora/backend/internal/models"
	"github.com/Andival-Sei/pennora/backend/internal/remote"
	"github.com/Andival-Sei/pennora/backend/internal/uuid"
)

func queueCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline operation queue",
	}
	cmd.AddCommand(
		queueListCommand(flags),
		queueStatusCommand(flags),
		queueNextCommand(flags),
		queuePurgeCommand(flags),
		queueClearCommand(flags),
		queueEnqueueCommand(flags),
		queueRemoveCommand(flags),
	)
	return cmd
}

// withApp runs fn with a bootstrapped app.
func withApp(flags *globalFlags, fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(flags)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func queueListCommand(flags *globalFlags) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations, oldest first",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app) error {
			var (
				ops []models.QueueOperation
				err error
			)
			if table != "" {
				t := models.Table(table)
				if err := remote.ValidateTable(t); err != nil {
					return err
				}
				ops, err = a.queue.GetByTable(cmd.Context(), t)
			} else {
				ops, err = a.queue.GetAll(cmd.Context())
			}
			if err != nil {
				return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to list queue", err)
			}
			if ops == nil {
				ops = []models.QueueOperation{}
			}
			return printJSON(cmd.OutOrStdout(), ops)
		}),
	}
	cmd.Flags().StringVar(&table, "table", "", "only list operations for this table")
	return cmd
}

func queueStatusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counters and the last sync time",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app) error {
			status, err := a.queue.GetStatus(cmd.Context())
			if err != nil {
				return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to read queue status", err)
			}
			return printJSON(cmd.OutOrStdout(), status)
		}),
	}
}

func queueNextCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the oldest operation still eligible for replay",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app) error {
			op, err := a.queue.GetNext(cmd.Context())
			if err != nil {
				return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to read next operation", err)
			}
			if op == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), op)
		}),
	}
}

func queuePurgeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete operations past the retention window",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app) error {
			n, err := a.queue.ClearProcessed(cmd.Context())
			if err != nil {
				return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to purge queue", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d operation(s)\n", n)
			return nil
		}),
	}
}

func queueClearCommand(flags *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every queued operation",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app) error {
			if !yes {
				return apperrors.New(apperrors.ErrInvalid, "refusing to clear the queue without --yes")
			}
			if err := a.queue.ClearAll(cmd.Context()); err != nil {
				return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to clear queue", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue cleared")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm discarding all pending writes")
	return cmd
}

func queueEnqueueCommand(flags *globalFlags) *cobra.Command {
	var (
		recordID string
		data     string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <table> <create|update|delete>",
		Short: "Queue an operation by hand",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app) error {
			table := models.Table(args[0])
			if err := remote.ValidateTable(table); err != nil {
				return err
			}

			kind := models.OperationKind(args[1])
			switch kind {
			case models.OperationCreate:
				if recordID != "" {
					return apperrors.New(apperrors.ErrValidation, "--record-id is not allowed for create")
				}
			case models.OperationUpdate, models.OperationDelete:
				if recordID == "" {
					return apperrors.New(apperrors.ErrRecordIDRequired,
						fmt.Sprintf("--record-id is required for %s", kind))
				}
			default:
				return apperrors.New(apperrors.ErrUnknownOperation, fmt.Sprintf("unknown operation %q", args[1]))
			}

			var payload models.Payload
			if data != "" {
				if !json.Valid([]byte(data)) {
					return apperrors.New(apperrors.ErrInvalid, "--data must be valid JSON")
				}
				payload = models.Payload(data)
			} else if kind != models.OperationDelete {
				payload = models.Payload("{}")
			}

			var rid *string
			if recordID != "" {
				rid = &recordID
			}
			id, err := a.queue.Enqueue(cmd.Context(), table, kind, rid, payload)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to enqueue operation", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	cmd.Flags().StringVar(&recordID, "record-id", "", "id of the record to update or delete")
	cmd.Flags().StringVar(&data, "data", "", "JSON payload")
	return cmd
}

func queueRemoveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <operation-id>",
		Short: "Drop one queued operation",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app) error {
			if err := uuid.Validate(args[0]); err != nil {
				return apperrors.Wrap(apperrors.ErrInvalid, "invalid operation id", err)
			}
			if err := a.queue.Remove(cmd.Context(), args[0]); err != nil {
				return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to remove operation", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		}),
	}
}
