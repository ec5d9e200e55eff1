package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oarkflow/squealx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/authcore"
	"github.com/oarkflow/authcore/logger"
	"github.com/oarkflow/authcore/stores"
)

type globalFlags struct {
	db      string
	redis   string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "authz-config",
		Short:         "Configuration tool for authcore",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.db, "db", "", "SQLite database to persist into (default: in-memory stores)")
	root.PersistentFlags().StringVar(&g.redis, "redis", "", "Redis address for the permission cache")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log engine activity")

	root.AddCommand(
		newConvertCmd(),
		newValidateCmd(),
		newStatsCmd(),
		newApplyCmd(g),
		newCheckCmd(g),
		newEffectiveCmd(g),
	)
	return root
}

func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert between YAML and JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := authcore.NewConfigLoader().LoadFile(args[0])
			if err != nil {
				return err
			}
			var data []byte
			switch strings.ToLower(filepath.Ext(args[1])) {
			case ".json":
				data, err = cfg.ToJSON()
			case ".yaml", ".yml":
				data, err = cfg.ToYAML()
			default:
				return fmt.Errorf("unsupported output format: %s", filepath.Ext(args[1]))
			}
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Converted %s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := authcore.NewConfigLoader().LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid")
			fmt.Fprintf(out, "  Version:     %d\n", cfg.Version)
			fmt.Fprintf(out, "  Permissions: %d\n", len(cfg.Permissions))
			fmt.Fprintf(out, "  Roles:       %d\n", len(cfg.Roles))
			fmt.Fprintf(out, "  Policies:    %d\n", len(cfg.Policies))
			fmt.Fprintf(out, "  Assignments: %d\n", len(cfg.Assignments))
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file>",
		Short: "Show configuration statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := authcore.NewConfigLoader().LoadFile(args[0])
			if err != nil {
				return err
			}
			printStats(cmd, cfg)
			return nil
		},
	}
}

func printStats(cmd *cobra.Command, cfg *authcore.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration Statistics")
	fmt.Fprintln(out, "========================")
	fmt.Fprintf(out, "Version: %d\n\n", cfg.Version)

	allow, deny := 0, 0
	tenants := map[string]struct{}{}
	for _, p := range cfg.Permissions {
		if p.Effect == authcore.EffectDeny {
			deny++
		} else {
			allow++
		}
		tenants[p.TenantID] = struct{}{}
	}
	fmt.Fprintln(out, "Permissions:")
	fmt.Fprintf(out, "  Allow: %d\n", allow)
	fmt.Fprintf(out, "  Deny:  %d\n\n", deny)

	if len(cfg.Roles) > 0 {
		total, inheriting := 0, 0
		for _, r := range cfg.Roles {
			total += len(r.Permissions)
			if len(r.ParentRoles) > 0 {
				inheriting++
			}
			tenants[r.TenantID] = struct{}{}
		}
		fmt.Fprintln(out, "Roles:")
		fmt.Fprintf(out, "  Count:             %d\n", len(cfg.Roles))
		fmt.Fprintf(out, "  With parents:      %d\n", inheriting)
		fmt.Fprintf(out, "  Avg permissions:   %.1f\n\n", float64(total)/float64(len(cfg.Roles)))
	}

	if len(cfg.Policies) > 0 {
		active, statements := 0, 0
		for _, p := range cfg.Policies {
			if p.Active {
				active++
			}
			statements += len(p.Statements)
		}
		fmt.Fprintln(out, "Policies:")
		fmt.Fprintf(out, "  Active:     %d/%d\n", active, len(cfg.Policies))
		fmt.Fprintf(out, "  Statements: %d\n\n", statements)
	}

	names := make([]string, 0, len(tenants))
	for t := range tenants {
		if t == authcore.GlobalTenant {
			t = "(global)"
		}
		names = append(names, t)
	}
	sort.Strings(names)
	fmt.Fprintf(out, "Tenants: %s\n\n", strings.Join(names, ", "))

	ec := cfg.Engine
	effect := ec.DefaultEffect
	if effect == "" {
		effect = authcore.EffectDeny
	}
	fmt.Fprintln(out, "Engine Configuration:")
	fmt.Fprintf(out, "  Default effect:  %s\n", effect)
	fmt.Fprintf(out, "  Cache enabled:   %t\n", ec.CacheEnabled)
	fmt.Fprintf(out, "  Cache TTL:       %dms\n", ec.CacheTTLMs)
	fmt.Fprintf(out, "  Audit buffer:    %d\n", ec.AuditBufferSize)
}

func newApplyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file>",
		Short: "Apply a configuration to an engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cfg, err := g.loadEngine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer engine.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration applied successfully")
			fmt.Fprintf(cmd.OutOrStdout(), "  Permissions loaded: %d\n", len(cfg.Permissions))
			fmt.Fprintf(cmd.OutOrStdout(), "  Roles loaded:       %d\n", len(cfg.Roles))
			fmt.Fprintf(cmd.OutOrStdout(), "  Policies loaded:    %d\n", len(cfg.Policies))
			return nil
		},
	}
}

func newCheckCmd(g *globalFlags) *cobra.Command {
	var actor, tenant, resourceID string
	cmd := &cobra.Command{
		Use:   "check <file> <resource> <action>",
		Short: "Authorize one request against a configuration",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := g.loadEngine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer engine.Close()
			res, err := engine.Authorize(cmd.Context(), &authcore.AuthorizationContext{
				ActorID:    actor,
				TenantID:   tenant,
				Resource:   args[1],
				Action:     args[2],
				ResourceID: resourceID,
			})
			if err != nil {
				return err
			}
			verdict := "DENY"
			if res.Allowed {
				verdict = "ALLOW"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (source=%s decided_by=%s, %s)\n", verdict, res.Reason, res.Source, res.DecidedBy, res.Duration)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Actor id")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&resourceID, "id", "", "Resource instance id")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newEffectiveCmd(g *globalFlags) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "effective <file> <user>",
		Short: "Print the effective permissions of a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := g.loadEngine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer engine.Close()
			perms, err := engine.GetUserEffectivePermissions(cmd.Context(), args[1], tenant)
			if err != nil {
				return err
			}
			sort.Strings(perms)
			for _, p := range perms {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	return cmd
}

// loadEngine builds an engine from the config file and the global flags,
// then seeds it.
func (g *globalFlags) loadEngine(ctx context.Context, path string) (*authcore.Engine, *authcore.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := authcore.NewConfigLoader().LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, nil, err
	}
	if g.verbose {
		opts = append(opts, authcore.WithLogger(logger.NewPhusluLogger()))
	}
	if g.db != "" {
		sqlDB, err := sql.Open("sqlite", g.db)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", g.db, err)
		}
		db := squealx.NewDb(sqlDB, "sqlite", "authz")
		if err := stores.Migrate(db); err != nil {
			return nil, nil, err
		}
		opts = append(opts,
			authcore.WithStores(stores.NewSQLStores(db)),
			authcore.WithAuditSink(stores.NewSQLAuditSink(db)),
		)
	}
	if g.redis != "" {
		client := redis.NewClient(&redis.Options{Addr: g.redis})
		opts = append(opts, authcore.WithCache(stores.NewRedisCache(client, "authz:"), 0))
	}
	engine, err := authcore.NewEngine(opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		engine.Close()
		return nil, nil, err
	}
	return engine, cfg, nil
}
