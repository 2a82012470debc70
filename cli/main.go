package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/haasonsaas/areuok/pkg/calendar"
	"github.com/haasonsaas/areuok/pkg/client"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var Version = "dev"

type cliOptions struct {
	serverURL string
	statePath string
	verbose   bool
	timeout   time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describeError(err))
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &cliOptions{}
	rootCmd := &cobra.Command{
		Use:           "areuok",
		Short:         "areuok - daily check-ins watched over by people you trust",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVarP(&opts.serverURL, "server", "s", envOr("AREUOK_SERVER", "http://localhost:8080"), "areuok server URL")
	rootCmd.PersistentFlags().StringVar(&opts.statePath, "state", envOr("AREUOK_STATE", client.DefaultStatePath()), "Local identity state file")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log requests and retries")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall command timeout")

	rootCmd.AddCommand(
		registerCmd(opts),
		whoamiCmd(opts),
		renameCmd(opts),
		modeCmd(opts),
		signinCmd(opts),
		statusCmd(opts),
		searchCmd(opts),
		superviseCmd(opts),
		healthCmd(opts),
		versionCmd(),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *cliOptions) session() *client.Session {
	logger := zerolog.Nop()
	if o.verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	c := client.New(o.serverURL, client.WithLogger(logger))
	return client.NewSession(c, client.NewStateFile(o.statePath))
}

func (o *cliOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

// describeError turns error codes into a sentence for the terminal.
func describeError(err error) string {
	var cooldown *apperr.CooldownError
	switch {
	case errors.As(err, &cooldown):
		return fmt.Sprintf("name was changed recently; try again in %d day(s)", cooldown.DaysLeft)
	case errors.Is(err, client.ErrNoIdentity):
		return err.Error()
	case errors.Is(err, apperr.ErrNameConflict):
		return "that name is already taken"
	case errors.Is(err, apperr.ErrHardwareIDConflict):
		return "that hardware ID is bound to another device"
	case errors.Is(err, apperr.ErrNotFound):
		return "not found"
	case errors.Is(err, apperr.ErrDuplicateRequest):
		return "a request for this pair is already pending"
	case errors.Is(err, apperr.ErrAlreadySupervising):
		return "already supervising that device"
	case errors.Is(err, apperr.ErrSelfSupervision):
		return "a device cannot supervise itself"
	case errors.Is(err, apperr.ErrRequestAlreadyResolved):
		return "that request was already resolved"
	case errors.Is(err, apperr.ErrInvalidInput):
		return "invalid input"
	case errors.Is(err, apperr.ErrRateLimited):
		return "too many requests; slow down"
	}
	return err.Error()
}

func registerCmd(opts *cliOptions) *cobra.Command {
	var hardwareID, mode string
	cmd := &cobra.Command{
		Use:   "register [name]",
		Short: "Register this device, or recover it by hardware ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			device, err := opts.session().Register(ctx, client.RegisterParams{
				DeviceName: args[0],
				HardwareID: hardwareID,
				Mode:       mode,
			})
			if err != nil {
				return err
			}
			printDevice(cmd.OutOrStdout(), device)
			return nil
		},
	}
	cmd.Flags().StringVar(&hardwareID, "hardware-id", "", "Stable hardware identifier (IMEI) used for recovery")
	cmd.Flags().StringVar(&mode, "mode", "signin", "Device mode: signin or supervisor")
	return cmd
}

func whoamiCmd(opts *cliOptions) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			device, err := opts.session().Whoami(ctx, cached)
			if err != nil {
				return err
			}
			printDevice(cmd.OutOrStdout(), device)
			return nil
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "Answer from the local state file without contacting the server")
	return cmd
}

func renameCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename [new-name]",
		Short: "Change this device's name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			device, err := opts.session().Rename(ctx, args[0])
			if err != nil {
				return err
			}
			printDevice(cmd.OutOrStdout(), device)
			return nil
		},
	}
}

func modeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "mode [signin|supervisor]",
		Short:     "Switch this device's mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"signin", "supervisor"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			device, err := opts.session().SetMode(ctx, args[0])
			if err != nil {
				return err
			}
			printDevice(cmd.OutOrStdout(), device)
			return nil
		},
	}
}

func signinCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signin",
		Short: "Check in for today",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			state, err := opts.session().SignIn(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in for %s. Streak: %d day(s)\n", state.LastSigninDate, state.Streak)
			return nil
		},
	}
}

func statusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [device-id]",
		Short: "Show check-in status for a device (defaults to this one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			session := opts.session()
			id, err := deviceArg(session, args)
			if err != nil {
				return err
			}
			st, err := session.Client().Status(ctx, id)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Device:       %s (%s)\n", st.DeviceName, st.DeviceID)
			fmt.Fprintf(w, "Mode:         %s\n", st.Mode)
			fmt.Fprintf(w, "Streak:       %d\n", st.Streak)
			fmt.Fprintf(w, "Last sign-in: %s\n", lastSignin(st.LastSigninDate))
			fmt.Fprintf(w, "Today:        %s\n", checkMark(st.SignedInToday))
			return nil
		},
	}
}

func searchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Find devices by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			devices, err := opts.session().Client().Search(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDEVICE ID\tMODE\tLAST SEEN")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\n", d.DeviceName, d.DeviceID, d.Mode, time.Since(d.LastSeenAt).Round(time.Second))
			}
			return w.Flush()
		},
	}
}

func healthCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			h, err := opts.session().Client().Health(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Healthy: %s\n", checkMark(h.Healthy))
			for _, issue := range h.Issues {
				fmt.Fprintf(w, "  - %s\n", issue)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "areuok version %s\n", Version)
		},
	}
}

func deviceArg(session *client.Session, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return session.DeviceID()
}

func printDevice(w io.Writer, d client.Device) {
	fmt.Fprintf(w, "Device:    %s\n", d.DeviceName)
	fmt.Fprintf(w, "ID:        %s\n", d.DeviceID)
	fmt.Fprintf(w, "Mode:      %s\n", d.Mode)
	if d.HardwareID != nil {
		fmt.Fprintf(w, "Hardware:  %s\n", *d.HardwareID)
	}
	fmt.Fprintf(w, "Last seen: %s\n", d.LastSeenAt.Local().Format(time.RFC3339))
}

func lastSignin(d *calendar.Date) string {
	if d == nil {
		return "never"
	}
	return d.String()
}

func checkMark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}
