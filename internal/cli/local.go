package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"invoicely/internal/types"
)

func newLocalCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Manage invoice history stored on this device",
	}
	cmd.AddCommand(newLocalAddInvoiceCmd(st))
	cmd.AddCommand(newLocalSetBusinessCmd(st))
	cmd.AddCommand(newLocalListCmd(st))
	return cmd
}

func newLocalAddInvoiceCmd(st *state) *cobra.Command {
	var (
		inv     types.LocalInvoice
		created string
	)
	cmd := &cobra.Command{
		Use:   "add-invoice",
		Short: "Record an invoice created before sign-in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inv.ID == "" {
				inv.ID = uuid.NewString()
			}
			if created != "" {
				t, err := time.Parse(time.RFC3339, created)
				if err != nil {
					return fmt.Errorf("--created-at: %w", err)
				}
				inv.CreatedAt = t.UTC()
			}
			local, err := st.localStore()
			if err != nil {
				return err
			}
			if err := local.AddInvoice(cmd.Context(), inv); err != nil {
				return err
			}
			return st.print(inv, func(w io.Writer) {
				fmt.Fprintf(w, "added %s\n", inv.ID)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&inv.ID, "id", "", "invoice ID (generated when empty)")
	f.StringVar(&inv.Number, "number", "", "invoice number")
	f.StringVar(&inv.Customer, "customer", "", "customer name")
	f.Int64Var(&inv.TotalCents, "total-cents", 0, "invoice total in minor units")
	f.StringVar(&inv.Currency, "currency", "USD", "ISO 4217 currency code")
	f.StringVar(&created, "created-at", "", "creation time, RFC 3339 (default now)")
	return cmd
}

func newLocalSetBusinessCmd(st *state) *cobra.Command {
	var info types.BusinessInfo
	cmd := &cobra.Command{
		Use:   "set-business",
		Short: "Save the business profile used on invoices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			local, err := st.localStore()
			if err != nil {
				return err
			}
			if err := local.SetBusinessInfo(cmd.Context(), info); err != nil {
				return err
			}
			return st.print(info, func(w io.Writer) {
				fmt.Fprintf(w, "saved business profile %q\n", info.Name)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&info.Name, "name", "", "business name")
	f.StringVar(&info.Email, "email", "", "contact email")
	f.StringVar(&info.Phone, "phone", "", "contact phone")
	f.StringVar(&info.Address, "address", "", "postal address")
	f.StringVar(&info.TaxID, "tax-id", "", "tax identifier")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newLocalListCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List invoices stored on this device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			local, err := st.localStore()
			if err != nil {
				return err
			}
			invoices, err := local.ListInvoices(cmd.Context())
			if err != nil {
				return err
			}
			if invoices == nil {
				invoices = []types.LocalInvoice{}
			}
			return st.print(invoices, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNUMBER\tCUSTOMER\tTOTAL\tCREATED")
				for _, inv := range invoices {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d %s\t%s\n",
						inv.ID, inv.Number, inv.Customer, inv.TotalCents, inv.Currency,
						inv.CreatedAt.Format(time.DateOnly))
				}
				_ = tw.Flush()
			})
		},
	}
}
