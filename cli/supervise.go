package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/areuok/pkg/client"
	"github.com/spf13/cobra"
)

func superviseCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Manage who this device watches and who watches it",
	}
	cmd.AddCommand(
		superviseRequestCmd(opts),
		supervisePendingCmd(opts),
		superviseOutgoingCmd(opts),
		superviseResolveCmd(opts, "accept", "Let [supervisor-id] watch this device"),
		superviseResolveCmd(opts, "reject", "Decline [supervisor-id]'s request"),
		superviseCancelCmd(opts),
		superviseListCmd(opts),
		superviseRemoveCmd(opts),
		superviseDashboardCmd(opts),
		superviseWatchCmd(opts),
	)
	return cmd
}

func superviseRequestCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "request [target-id]",
		Short: "Ask to watch another device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			session := opts.session()
			self, err := session.DeviceID()
			if err != nil {
				return err
			}
			req, err := session.Client().RequestSupervision(ctx, self, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %s sent to %s\n", req.RequestID, displayName(req.TargetName, req.TargetID))
			return nil
		},
	}
}

func supervisePendingCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List requests waiting for this device's answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			session := opts.session()
			self, err := session.DeviceID()
			if err != nil {
				return err
			}
			reqs, err := session.Client().PendingRequests(ctx, self)
			if err != nil {
				return err
			}
			return printRequests(cmd.OutOrStdout(), reqs, func(r client.SupervisionRequest) (string, string) {
				return displayName(r.SupervisorName, r.SupervisorID), r.SupervisorID
			})
		},
	}
}

func superviseOutgoingCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "outgoing",
		Short: "List requests this device sent that are still pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			session := opts.session()
			self, err := session.DeviceID()
			if err != nil {
				return err
			}
			reqs, err := session.Client().OutgoingRequests(ctx, self)
			if err != nil {
				return err
			}
			return printRequests(cmd.OutOrStdout(), reqs, func(r client.SupervisionRequest) (string, string) {
				return displayName(r.TargetName, r.TargetID), r.TargetID
			})
		},
	}
}

// superviseResolveCmd answers a request addressed to this device.
func superviseResolveCmd(opts *cliOptions, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " [supervisor-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			session := opts.session()
			self, err := session.DeviceID()
			if err != nil {
				return err
			}
			switch verb {
			case "accept":
				rel, err := session.Client().Accept(ctx, args[0], self)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s now supervises this device (relation %s)\n", displayName(rel.SupervisorName, rel.SupervisorID), rel.RelationID)
			case "reject":
				if err := session.Client().Reject(ctx, args[0], self); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Request rejected")
			}
			return nil
		},
	}
}

func superviseCancelCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [target-id]",
		Short: "Withdraw a request this device sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			session := opts.session()
			self, err := session.DeviceID()
			if err != nil {
				return err
			}
			if err := session.Client().Cancel(ctx, self, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Request cancelled")
			return nil
		},
	}
}

func superviseListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List devices this device supervises",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			session := opts.session()
			self, err := session.DeviceID()
			if err != nil {
				return err
			}
			rels, err := session.Client().Relations(ctx, self)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TARGET\tDEVICE ID\tRELATION ID\tSINCE")
			for _, r := range rels {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", displayName(r.TargetName, r.TargetID), r.TargetID, r.RelationID, r.CreatedAt.Local().Format(time.DateOnly))
			}
			return w.Flush()
		},
	}
}

func superviseRemoveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove [relation-id]",
		Short: "Stop a supervision relation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			if err := opts.session().Client().RemoveRelation(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Relation removed")
			return nil
		},
	}
}

func superviseDashboardCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show today's check-ins for every supervised device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			session := opts.session()
			self, err := session.DeviceID()
			if err != nil {
				return err
			}
			dash, err := session.Client().Dashboard(ctx, self)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE\tTODAY\tSTREAK\tLAST SIGN-IN")
			for _, st := range dash.Supervised {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", st.DeviceName, checkMark(st.SignedInToday), st.Streak, lastSignin(st.LastSigninDate))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(dash.Pending) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d request(s) awaiting an answer\n", len(dash.Pending))
			}
			return nil
		},
	}
}

func printRequests(out io.Writer, reqs []client.SupervisionRequest, other func(client.SupervisionRequest) (string, string)) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tDEVICE ID\tREQUESTED")
	for _, r := range reqs {
		name, id := other(r)
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, id, r.CreatedAt.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

func displayName(name, id string) string {
	if name == "" {
		return id
	}
	return name
}

func superviseWatchCmd(opts *cliOptions) *cobra.Command {
	var interval, jitter time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the dashboard and print check-in changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			session := opts.session()
			self, err := session.DeviceID()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var last client.SupervisorStatus
			err = session.Client().WatchDashboard(cmd.Context(), self, interval, jitter, func(dash client.SupervisorStatus, err error) {
				if err != nil {
					fmt.Fprintf(out, "%s  poll failed: %s\n", time.Now().Format(time.Kitchen), describeError(err))
					return
				}
				for _, change := range client.DiffCheckIns(last, dash) {
					fmt.Fprintf(out, "%s  %s %s (streak %d)\n", time.Now().Format(time.Kitchen), checkMark(change.Device.SignedInToday), change.Device.DeviceName, change.Device.Streak)
				}
				last = dash
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "Time between polls")
	cmd.Flags().DurationVar(&jitter, "jitter", 5*time.Second, "Random extra delay added to each poll")
	return cmd
}
