package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"microtask/internal/app"
	"microtask/internal/config"
	"microtask/internal/domain"
	"microtask/internal/engine"
	"microtask/internal/repo"
	"microtask/internal/server"
	"microtask/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "mt",
	Short: "Microtask marketplace CLI",
	Long: `Microtask runs a coin-based micro-task marketplace.
- Buyers purchase coins and post tasks; posting reserves required_workers x payable_amount.
- Workers submit work; each submission holds one slot until the buyer approves or rejects it.
- Approval pays the worker, rejection reopens the slot.
- Admins settle withdrawal requests, which debit the worker on approval.
Every coin movement is journaled in the ledger (see 'mt ledger').`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MICROTASK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("redis-addr", "", "redis address for the stats cache")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("redis-addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(withdrawalCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage marketplace.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default marketplace.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userListCmd())
	u.AddCommand(userSetRoleCmd())
	u.AddCommand(userCreateAdminCmd())
	return u
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx, repo.UserFilters{Role: role})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Role", "Coins"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, u.Name, u.Role, u.Coins})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	return cmd
}

func userSetRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <email> <role>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if args[1] != domain.RoleAdmin && args[1] != domain.RoleBuyer && args[1] != domain.RoleWorker {
					return fmt.Errorf("unknown role %q", args[1])
				}
				u, err := e.Repo.GetUserByEmail(ctx, args[0])
				if err != nil {
					return err
				}
				if err := e.Repo.UpdateUserRole(ctx, u.ID, args[1]); err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", u.Email, args[1])
				return nil
			})
		},
	}
}

func userCreateAdminCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create-admin <email>",
		Short: "Create an admin or promote an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateAdmin(ctx, args[0], name)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	t.AddCommand(taskListCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var buyer string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open tasks, or every task of a buyer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var tasks []domain.Task
				var err error
				if buyer != "" {
					tasks, err = e.ListBuyerTasks(ctx, buyer)
				} else {
					tasks, err = e.ListOpenTasks(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Buyer", "Slots", "Pay", "Due"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.BuyerEmail, t.RequiredWorkers, t.PayableAmount, t.CompletionDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&buyer, "buyer", "", "list every task of this buyer")
	return cmd
}

func withdrawalCmd() *cobra.Command {
	w := &cobra.Command{Use: "withdrawal", Short: "Settle worker withdrawals"}
	w.AddCommand(withdrawalListCmd())
	w.AddCommand(withdrawalSettleCmd("approve", domain.StatusApproved))
	w.AddCommand(withdrawalSettleCmd("deny", domain.StatusDenied))
	return w
}

func withdrawalListCmd() *cobra.Command {
	var status, worker string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List withdrawals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWithdrawals(ctx, repo.WithdrawalFilters{Status: status, WorkerEmail: worker})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Worker", "Coins", "USD", "System", "Status", "Requested"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.WorkerEmail, w.Coins, fmt.Sprintf("%.2f", w.AmountUSD), w.PaymentSystem, w.Status, w.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", domain.StatusPending, "status filter (empty for all)")
	cmd.Flags().StringVar(&worker, "worker", "", "worker email filter")
	return cmd
}

func withdrawalSettleCmd(use, decision string) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   use + " <withdrawal-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a pending withdrawal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				approver := admin
				if approver == "" {
					approver = e.Config.Admin.Email
				}
				if approver == "" {
					return errors.New("--admin is required when marketplace.yml has no admin.email")
				}
				w, err := e.Settle(ctx, args[0], decision, approver)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "acting admin email (defaults to admin.email)")
	return cmd
}

func ledgerCmd() *cobra.Command {
	l := &cobra.Command{Use: "ledger", Short: "Inspect coin balances"}
	l.AddCommand(ledgerBalanceCmd())
	l.AddCommand(ledgerJournalCmd())
	l.AddCommand(ledgerVerifyCmd())
	return l
}

func ledgerBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <email>",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				bal, err := e.Ledger().Balance(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"email": repo.NormalizeEmail(args[0]), "balance": bal})
				}
				fmt.Printf("%s: %d coins\n", repo.NormalizeEmail(args[0]), bal)
				return nil
			})
		},
	}
}

func ledgerJournalCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "journal <email>",
		Short: "Show recent balance changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Ledger().Journal(ctx, args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Delta", "Balance", "Reason", "Ref"})
				for _, en := range entries {
					tw.AppendRow(table.Row{en.CreatedAt, en.Delta, en.BalanceAfter, en.Reason, strings.Trim(en.RefKind+":"+en.RefID, ":")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func ledgerVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every balance against its journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx, repo.UserFilters{})
				if err != nil {
					return err
				}
				var mismatched int
				for _, u := range users {
					sum, err := e.Ledger().JournalSum(ctx, u.Email)
					if err != nil {
						return err
					}
					if sum != u.Coins {
						mismatched++
						fmt.Printf("%s: balance %d, journal %d\n", u.Email, u.Coins, sum)
					}
				}
				if mismatched > 0 {
					return fmt.Errorf("%d balance(s) disagree with the journal", mismatched)
				}
				fmt.Printf("%d balances match the journal\n", len(users))
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	t.AddCommand(tokenMintCmd())
	return t
}

func tokenMintCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint <email>",
		Short: "Mint a bearer token signed with MICROTASK_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := config.LoadRuntime()
			if err != nil {
				return err
			}
			if rt.JWTSecret == "" {
				return errors.New("MICROTASK_JWT_SECRET is required")
			}
			token, exp, err := server.IssueToken(rt.JWTSecret, args[0], ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "expires_at": exp})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := config.LoadRuntime()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = rt.Addr
			}
			if rt.JWTSecret == "" {
				return errors.New("MICROTASK_JWT_SECRET is required for bearer auth")
			}
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Setup(ctx, rt.OTelEndpoint)
			if err != nil {
				return fmt.Errorf("setup tracing: %w", err)
			}
			defer shutdownTracing(context.Background())

			ws, err := app.Open(ctx, viper.GetString("workspace"), app.Options{RedisAddr: redisAddr(rt)})
			if err != nil {
				return err
			}
			defer ws.Close()

			handler, err := server.New(server.Config{
				Engine: ws.Engine,
				Auth:   server.AuthConfig{JWTSecret: rt.JWTSecret, TokenTTL: ws.Config.Auth.TokenTTL.Std()},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("serving microtask API", "addr", addr, "openapi", "/openapi.json", "docs", "/docs", "cache", ws.Cache != nil)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default MICROTASK_ADDR or 127.0.0.1:8080)")
	return cmd
}

// --- helpers ---

func redisAddr(rt config.Runtime) string {
	if v := viper.GetString("redis-addr"); v != "" {
		return v
	}
	return rt.RedisAddr
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := config.LoadRuntime()
	if err != nil {
		return err
	}
	ws, err := app.Open(ctx, viper.GetString("workspace"), app.Options{RedisAddr: redisAddr(rt)})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
