package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"invoicely/internal/billing"
	"invoicely/internal/entitlement"
	"invoicely/internal/types"
)

type statusView struct {
	*types.Entitlement
	ResetsAt time.Time                `json:"resets_at"`
	Cloud    *entitlement.CloudHistory `json:"cloud,omitempty"`
}

func newStatusCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the user's plan, usage and billing state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := st.requireUser()
			if err != nil {
				return err
			}
			svc, err := st.service(cmd.Context())
			if err != nil {
				return err
			}
			e, err := svc.GetEntitlement(cmd.Context(), userID)
			if err != nil {
				return err
			}
			view := statusView{Entitlement: e, ResetsAt: billing.NextPeriodStart(e.PeriodAnchor)}
			if !e.Stale {
				// Cloud history is informational; a failed read only drops it.
				view.Cloud, _ = svc.History(cmd.Context(), userID, false)
			}
			return st.print(view, func(w io.Writer) {
				fmt.Fprintf(w, "User:          %s\n", e.UserID)
				fmt.Fprintf(w, "Plan:          %s (%s)\n", e.Tier, e.SubscriptionStatus)
				if e.IsPro() {
					fmt.Fprintf(w, "Invoices:      %d this period (unlimited)\n", e.InvoicesThisPeriod)
				} else {
					fmt.Fprintf(w, "Invoices:      %d of %d this period\n", e.InvoicesThisPeriod, e.MaxFreeInvoices)
				}
				fmt.Fprintf(w, "Period start:  %s\n", e.PeriodAnchor.Format(time.DateOnly))
				fmt.Fprintf(w, "Usage resets:  %s\n", view.ResetsAt.Format(time.DateOnly))
				if e.NextBillingDate != nil {
					fmt.Fprintf(w, "Next billing:  %s\n", e.NextBillingDate.Format(time.DateOnly))
				}
				fmt.Fprintf(w, "Migrated:      %t\n", e.MigrationCompleted)
				if c := view.Cloud; c != nil {
					fmt.Fprintf(w, "Cloud invoices: %d\n", c.InvoiceCount)
					if c.Business != nil {
						fmt.Fprintf(w, "Business:      %s\n", c.Business.Name)
					}
				}
				if e.Stale {
					fmt.Fprintln(w, "Note:          offline; showing last known state")
				}
			})
		},
	}
}

func newProCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "pro",
		Short: "Report whether the user currently has Pro",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := st.requireUser()
			if err != nil {
				return err
			}
			svc, err := st.service(cmd.Context())
			if err != nil {
				return err
			}
			pro, err := svc.IsProUser(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return st.print(map[string]bool{"pro": pro}, func(w io.Writer) {
				fmt.Fprintln(w, pro)
			})
		},
	}
}

func newRemainingCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "remaining",
		Short: "Show how many invoices can still be created this period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := st.requireUser()
			if err != nil {
				return err
			}
			svc, err := st.service(cmd.Context())
			if err != nil {
				return err
			}
			rem, err := svc.InvoicesRemaining(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return st.print(rem, func(w io.Writer) {
				if rem.Unlimited {
					fmt.Fprintln(w, "unlimited")
					return
				}
				fmt.Fprintf(w, "%d (resets %s)\n", rem.Count, rem.ResetsAt.Format(time.DateOnly))
			})
		},
	}
}

func newCanCreateCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "can-create",
		Short: "Check whether one more invoice may be created",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := st.requireUser()
			if err != nil {
				return err
			}
			svc, err := st.service(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := svc.CanCreateInvoice(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return st.print(map[string]bool{"allowed": ok}, func(w io.Writer) {
				if ok {
					fmt.Fprintln(w, "yes")
				} else {
					fmt.Fprintln(w, "no: free invoice limit reached for this period")
				}
			})
		},
	}
}

func newRecordCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "record",
		Short: "Count one created invoice against the period's quota",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := st.requireUser()
			if err != nil {
				return err
			}
			svc, err := st.service(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.RecordInvoiceCreated(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return st.print(res, func(w io.Writer) {
				if res.Unlimited {
					fmt.Fprintf(w, "recorded: %d this period\n", res.NewCount)
					return
				}
				fmt.Fprintf(w, "recorded: %d this period, %d remaining\n", res.NewCount, res.Remaining)
			})
		},
	}
}

func newMigrateCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Copy invoices created on this device to the cloud account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := st.requireUser()
			if err != nil {
				return err
			}
			svc, err := st.service(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.MigrateIfNeeded(cmd.Context(), userID)
			if err != nil && !(types.IsCode(err, types.ErrCodeMigrationPartialFailure) && res != nil) {
				return err
			}
			if perr := st.print(res, func(w io.Writer) {
				switch {
				case res.AlreadyCompleted:
					fmt.Fprintln(w, "already migrated")
				case res.Completed:
					fmt.Fprintf(w, "migrated %d invoices (business info: %t)\n", res.InvoicesMigrated, res.BusinessInfoMigrated)
				default:
					fmt.Fprintf(w, "migrated %d invoices, %d outstanding; run again to retry\n", res.InvoicesMigrated, res.Outstanding)
				}
			}); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newRecheckCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "recheck",
		Short: "Re-resolve every Pro user whose billing date is near or past",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := st.service(cmd.Context()); err != nil {
				return err
			}
			report, err := st.app.Rechecker().Run(cmd.Context())
			if err != nil {
				return err
			}
			return st.print(report, func(w io.Writer) {
				fmt.Fprintf(w, "due %d, resolved %d, failed %d\n", report.Due, report.Resolved, report.Failed)
			})
		},
	}
}
