package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Product string
	Limit   int
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List committed stock changes",
		Long: `List audit records in the order they were written.

--product accepts a product id or SKU. Without it every product is listed.

Examples:
  stockline audit
  stockline audit --product BV-050 --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Product, "product", "p", "", "product id or SKU")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records (0 for all)")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	productID := ""
	if opts.Product != "" {
		p, err := findProduct(ctx, a.store, opts.Product)
		if err != nil {
			return err
		}
		productID = p.ID
	}

	records, err := a.store.ListAudit(ctx, productID, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list audit records", err)
	}
	if records == nil {
		records = []domain.AuditRecord{}
	}

	return formatter(opts.RootOptions, cmd).Emit(records, func(w io.Writer) {
		if len(records) == 0 {
			fmt.Fprintln(w, "No audit records.")
			return
		}
		for _, r := range records {
			fmt.Fprintf(w, "%s  %-12s %-10s %+d  %d -> %d  by %s\n",
				r.Timestamp.Format("2006-01-02 15:04:05"), r.Action, r.EntityID,
				r.QuantityDelta, r.PreviousQuantity, r.NewQuantity, r.ActorName)
		}
	})
}

// findProduct looks ref up as an id, then as a SKU.
func findProduct(ctx context.Context, st *store.Store, ref string) (domain.Product, error) {
	p, err := st.Product(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		p, err = st.ProductBySKU(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, NewExitError(ExitCommandError, fmt.Sprintf("unknown product %q", ref))
	}
	if err != nil {
		return domain.Product{}, WrapExitError(ExitCommandError, "failed to look up product", err)
	}
	return p, nil
}
