package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ducminhle1904/risk-control-plane/internal/reporting"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

func profileCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Read and change risk profiles",
	}
	cmd.AddCommand(profileListCmd(open), profileGetCmd(open), profileSetCmd(open), profileCloneCmd(open))
	return cmd
}

func profileListCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, name := range a.risk.Profiles() {
				marker := " "
				if name == a.cfg.Profiles.Active {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}

func profileGetCmd(open opener) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "get [profile]",
		Short: "Show a profile, or one parameter with --path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			name, err := profileArg(a, args)
			if err != nil {
				return err
			}
			tree, ok := a.risk.Profile(name)
			if !ok {
				return fmt.Errorf("profile %s does not exist", name)
			}

			if path == "" {
				reporting.PrintProfile(cmd.OutOrStdout(), name, tree)
				return nil
			}
			missing := &struct{}{}
			value := a.risk.GetParam(path, name, missing)
			if value == missing {
				return fmt.Errorf("parameter %s is not set in %s", path, name)
			}
			out, err := yaml.Marshal(value)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "dot path of a single parameter")
	return cmd
}

func profileSetCmd(open opener) *cobra.Command {
	var (
		profile string
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Change a parameter and record it in the audit trail",
		Long: `Change a parameter. The value is parsed as YAML, so numbers, booleans
and lists keep their type.

Examples:
  riskctl profile set drawdown_limits.max_daily_drawdown 0.015 --reason "tighten"
  riskctl profile set trade_limitations.restricted_assets "[LUNA, FTT]" --profile conservative --reason "delisted"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value interface{}
			if err := yaml.Unmarshal([]byte(args[1]), &value); err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}
			if value == nil {
				return fmt.Errorf("value must not be empty")
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			name := a.cfg.Profiles.Active
			if profile != "" {
				if name, err = riskconfig.ParseProfileName(profile); err != nil {
					return err
				}
			}
			if err := a.risk.SetParam(args[0], value, name, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s.%s = %v\n", name, args[0], value)
			return nil
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "profile to change (default ACTIVE_PROFILE)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func profileCloneCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "clone <template>",
		Short: "Create the custom profile from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			template, err := riskconfig.ParseProfileName(args[0])
			if err != nil {
				return err
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.risk.CreateCustomProfile(template); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "custom profile created from %s\n", template)
			return nil
		},
	}
}

func profileArg(a *app, args []string) (riskconfig.ProfileName, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return a.cfg.Profiles.Active, nil
	}
	return riskconfig.ParseProfileName(args[0])
}
