package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/store"
)

// NewApprovalsCommand creates the approvals command group.
func NewApprovalsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Review orders flagged for approval",
		Long: `Orders above the approval threshold are placed and queued for review.

Examples:
  stockline approvals list
  stockline approvals list --status all
  stockline approvals approve <order-id>
  stockline approvals deny <order-id>`,
	}

	cmd.AddCommand(newApprovalsListCommand(rootOpts))
	cmd.AddCommand(newApprovalResolveCommand(rootOpts, "approve", domain.ApprovalApproved))
	cmd.AddCommand(newApprovalResolveCommand(rootOpts, "deny", domain.ApprovalDenied))

	return cmd
}

func newApprovalsListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List approvals",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsList(rootOpts, status, cmd)
		},
	}

	cmd.Flags().StringVar(&status, "status", string(domain.ApprovalPending), "pending, approved, denied or all")

	return cmd
}

func runApprovalsList(opts *RootOptions, status string, cmd *cobra.Command) error {
	var filter domain.ApprovalStatus
	switch status {
	case "all":
	case string(domain.ApprovalPending), string(domain.ApprovalApproved), string(domain.ApprovalDenied):
		filter = domain.ApprovalStatus(status)
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", status))
	}

	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	approvals, err := a.store.ListApprovals(cmd.Context(), filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list approvals", err)
	}
	if approvals == nil {
		approvals = []domain.Approval{}
	}

	return formatter(opts, cmd).Emit(approvals, func(w io.Writer) {
		if len(approvals) == 0 {
			fmt.Fprintln(w, "No approvals.")
			return
		}
		for _, ap := range approvals {
			fmt.Fprintf(w, "%s  %-8s %s  %s\n",
				ap.CreatedAt.Format("2006-01-02 15:04:05"), ap.Status, ap.OrderID, ap.Reason)
		}
	})
}

func newApprovalResolveCommand(rootOpts *RootOptions, verb string, status domain.ApprovalStatus) *cobra.Command {
	return &cobra.Command{
		Use:           verb + " <order-id>",
		Short:         fmt.Sprintf("Mark a pending approval %s", status),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalResolve(rootOpts, args[0], status, cmd)
		},
	}
}

// ApprovalResult is the outcome of approve or deny.
type ApprovalResult struct {
	OrderID string                `json:"order_id"`
	Status  domain.ApprovalStatus `json:"status"`
}

func runApprovalResolve(opts *RootOptions, orderID string, status domain.ApprovalStatus, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.store.ResolveApproval(cmd.Context(), orderID, status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NewExitError(ExitCommandError, fmt.Sprintf("no approval for order %s", orderID))
	case errors.Is(err, store.ErrConflict):
		return WrapExitError(ExitFailure, "approval not pending", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to resolve approval", err)
	}

	a.logger.Info("approval resolved", "order_id", orderID, "status", status)
	return formatter(opts, cmd).Emit(ApprovalResult{OrderID: orderID, Status: status}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ order %s %s\n", orderID, status)
	})
}
