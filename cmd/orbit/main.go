// ORBIT CLI - run engine passes and inspect users from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orbitlabs/orbit/internal/app"
	"github.com/orbitlabs/orbit/internal/core"
)

var (
	v = viper.New()

	// Version
	version = "0.1.0"

	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orbit",
		Short: "ORBIT - behavioral signal and attention engine",
		Long: `orbit runs ORBIT's engine passes against the configured database
and inspects what the engine has learned about a user.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return nil
		},
		SilenceUsage: true,
	}

	if err := app.BindFlags(rootCmd, v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")

	rootCmd.AddCommand(learnCmd())
	rootCmd.AddCommand(decayCmd())
	rootCmd.AddCommand(insightsCmd())
	rootCmd.AddCommand(overwhelmCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(deliverCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads config, wires the services and runs fn
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := app.LoadConfig(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}

func printJSON(data interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// learnCmd runs a learning pass for one user
func learnCmd() *cobra.Command {
	var lookback time.Duration
	cmd := &cobra.Command{
		Use:   "learn <user-id>",
		Short: "Fold recent behavioral events into a user's profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if lookback == 0 {
					lookback = a.Config.Learning.ManualLookback.Std()
				}
				result, err := a.Learning.Learn(ctx, core.UserID(args[0]), lookback)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(result)
				}
				fmt.Printf("🧠 Analyzed %d events\n", result.EventsAnalyzed)
				if result.Message != "" {
					fmt.Printf("   %s\n", result.Message)
				}
				for k, val := range result.Updates {
					fmt.Printf("   %-24s %v\n", k, val)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&lookback, "lookback", 0, "event window (default from config)")
	return cmd
}

// decayCmd runs one intent decay pass
func decayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decay",
		Short: "Lower the priority of unprocessed intents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				result, err := a.Decay.Run(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(result)
				}
				fmt.Printf("⏳ Scanned %d intents, lowered %d\n", result.Scanned, result.Lowered)
				return nil
			})
		},
	}
}

// insightsCmd prints the insights derived from a user's profile
func insightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insights <user-id>",
		Short: "Show cognitive insights for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				insights, err := a.Learning.Insights(ctx, core.UserID(args[0]))
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(insights)
				}
				if len(insights) == 0 {
					fmt.Println("No insights yet. Keep using ORBIT.")
					return nil
				}
				for _, in := range insights {
					fmt.Printf("💡 [%s] %s\n", in.Type, in.Message)
				}
				return nil
			})
		},
	}
}

// overwhelmCmd runs an overwhelm check
func overwhelmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overwhelm <user-id>",
		Short: "Check whether a user is overwhelmed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				check, err := a.Learning.CheckOverwhelm(ctx, core.UserID(args[0]))
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(check)
				}
				if check == nil || !check.IsOverwhelmed {
					fmt.Println("✅ You're doing fine.")
					return nil
				}
				fmt.Printf("🌿 Overwhelm score %.2f\n", check.Score)
				fmt.Printf("   %s\n", strings.Join(check.Reasons, "; "))
				if check.Scope != nil {
					fmt.Printf("   %s\n", check.Scope.Message)
				}
				return nil
			})
		},
	}
}

// pendingCmd lists suppressed notifications
func pendingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending <user-id>",
		Short: "List notifications held back by the attention gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				pending, err := a.Notifications.GetPending(ctx, core.UserID(args[0]), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(pending)
				}
				if len(pending) == 0 {
					fmt.Println("Nothing pending.")
					return nil
				}
				for _, p := range pending {
					fmt.Printf("  %-7s %s  %s\n", p.Priority, p.QueuedAt.Format("15:04"), p.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum entries to show")
	return cmd
}

// deliverCmd flushes the pending queue as batched notifications
func deliverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deliver <user-id>",
		Short: "Deliver held back notifications now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				n, err := a.Notifications.DeliverPending(ctx, core.UserID(args[0]))
				if err != nil {
					return err
				}
				fmt.Printf("📬 Delivered %d notifications\n", n)
				return nil
			})
		},
	}
}

// userCmd manages users
func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var email, timezone string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a user and create their profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				u, err := a.Learning.RegisterUser(ctx, &core.User{
					Name:     args[0],
					Email:    email,
					Timezone: timezone,
				})
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(u)
				}
				fmt.Printf("👤 Registered %s (%s)\n", u.Name, u.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&email, "email", "", "email address")
	add.Flags().StringVar(&timezone, "timezone", "", "IANA timezone (default UTC)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				users, err := a.Learning.ListUsers(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(users)
				}
				for _, u := range users {
					fmt.Printf("  %s  %s\n", u.ID, u.Name)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

// versionCmd shows version
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show ORBIT version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ORBIT %s\n", version)
		},
	}
}
