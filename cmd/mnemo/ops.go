package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/intent"
	"github.com/ent0n29/mnemo/internal/memory"
)

func newAskCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Route one query and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			resp, err := rt.built.Router.Handle(cmd.Context(), owner, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// classify only needs the rules, so it skips the store and adapters.
func newClassifyCmd() *cobra.Command {
	var rulesFile string
	cmd := &cobra.Command{
		Use:   "classify <query>",
		Short: "Print the intent classification of a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := config.LoadRules(rulesFile)
			if err != nil {
				return err
			}
			classifier, err := intent.New(rules.Intent)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), classifier.Classify(strings.Join(args, " ")))
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", "", "rules YAML file layered over the defaults")
	return cmd
}

func newRememberCmd() *cobra.Command {
	var (
		owner  string
		topics []string
	)
	cmd := &cobra.Command{
		Use:   "remember <content>",
		Short: "Store a memory for an owner",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			out, err := rt.built.Coordinator.Add(cmd.Context(), memory.AddRequest{
				OwnerID: owner,
				Content: strings.Join(args, " "),
				Topics:  topics,
			})
			if err != nil {
				return err
			}
			if rec, ok := out.Record(); ok {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			rej, _ := out.Rejection()
			_ = printJSON(cmd.OutOrStdout(), rej)
			return fmt.Errorf("memory not stored: %s", rej.Reason)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topic to assign (repeatable); classified from content when omitted")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newAuditCmd() *cobra.Command {
	var (
		owner  string
		repair bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare an owner's memories with the graph mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			if rt.built.Auditor == nil {
				return errors.New("graph mirror is disabled; set GRAPH_MODE")
			}
			if repair {
				res, err := rt.built.Auditor.Repair(cmd.Context(), owner)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}
			report, err := rt.built.Auditor.Audit(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().BoolVar(&repair, "repair", false, "re-queue upserts for missing or failed records")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
