package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/risk-control-plane/internal/reporting"
)

func auditCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read and export the risk parameter audit trail",
	}
	cmd.AddCommand(auditListCmd(open), auditExportCmd(open))
	return cmd
}

func auditListCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.risk.AuditTrail(cmd.Context())
			if err != nil {
				return err
			}
			reporting.PrintAudit(cmd.OutOrStdout(), entries)
			return nil
		},
	}
}

func auditExportCmd(open opener) *cobra.Command {
	var (
		out      string
		breakers bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit trail to an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.risk.AuditTrail(cmd.Context())
			if err != nil {
				return err
			}
			if breakers {
				err = reporting.WriteXLSX(out, reporting.Export{Audit: entries, Breakers: a.breaker.Snapshot()})
			} else {
				err = reporting.WriteAuditXLSX(entries, out)
			}
			if err != nil {
				return fmt.Errorf("failed to export audit trail: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d audit entries written to %s\n", len(entries), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "risk_audit.xlsx", "output workbook")
	cmd.Flags().BoolVar(&breakers, "breakers", false, "add a sheet with the current breaker records")
	return cmd
}
