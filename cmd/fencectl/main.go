// fencectl lints SQL statements against the tenant isolation policy without
// touching a database. The same guard pipeline that fronts the gateway runs
// here offline, so a statement that passes fencectl passes the server.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/guard"
	"github.com/fenceworks/sqlfence/pkg/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

var verbose bool

func main() {
	if err := newRootCmd(Version).Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:          "fencectl",
		Short:        "Offline linter for tenant-isolated SQL",
		Long:         "Checks SQL statements against the sqlfence enforcement rules: denied operations, tenant isolation bypasses, and missing tenant_id scoping.",
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "log pipeline detail to stderr")

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newCheckCmd())

	return root
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "fencectl "+version)
		},
	}
}

func newCheckCmd() *cobra.Command {
	var (
		file           string
		tenantRequired bool
		tablesConfig   string
	)

	cmd := &cobra.Command{
		Use:   "check [SQL...]",
		Short: "Validate SQL statements against the isolation policy",
		Long: "Runs each statement through the guard's validation pipeline and prints findings. " +
			"SQL comes from arguments, --file, or stdin. Scripts are split on semicolons and checked statement by statement.",
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readInput(cmd, args, file)
			if err != nil {
				return err
			}

			statements := guard.SplitStatements(script)
			if len(statements) == 0 {
				return errors.New("no SQL statements to check")
			}

			logger := zap.NewNop()
			if verbose {
				if logger, err = logging.New("local", "debug"); err != nil {
					return err
				}
				defer logger.Sync()
			}

			classifier := guard.NewTableClassifier()
			if tablesConfig != "" {
				tableCfg, err := guard.LoadTableConfig(tablesConfig)
				if err != nil {
					return err
				}
				classifier.AddSystemTables(tableCfg.SystemTables...)
			}
			g := guard.New(classifier, logger, nil)

			out := cmd.OutOrStdout()
			failures := 0
			for i, stmt := range statements {
				_, err := g.Check(cmd.Context(), stmt, "")

				var v *guard.Violation
				switch {
				case err == nil:
					fmt.Fprintf(out, "ok: statement %d\n", i+1)
				case errors.As(err, &v):
					if !tenantRequired && isScopeFinding(v.Code) {
						fmt.Fprintf(out, "warning: statement %d: %s [%s]\n", i+1, v.Message, v.Code)
						continue
					}
					failures++
					fmt.Fprintf(out, "violation: statement %d: %s [%s]\n", i+1, v.Message, v.Code)
				default:
					failures++
					fmt.Fprintf(out, "error: statement %d: %v\n", i+1, err)
				}
			}

			if failures > 0 {
				return &exitError{
					code: 1,
					msg:  fmt.Sprintf("%d of %d statements failed", failures, len(statements)),
				}
			}
			fmt.Fprintf(out, "%d statements passed\n", len(statements))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read SQL from a file instead of arguments")
	cmd.Flags().BoolVar(&tenantRequired, "tenant-required", false, "fail tenant-table statements that lack a tenant_id filter (default: warn)")
	cmd.Flags().StringVar(&tablesConfig, "tables-config", "", "YAML file extending the system table exemption list")

	return cmd
}

// isScopeFinding reports whether the violation is about missing tenant
// scoping rather than a forbidden construct. Scoping findings downgrade to
// warnings unless --tenant-required is set, since statements are often linted
// before the server-side tenant context exists.
func isScopeFinding(code guard.ViolationCode) bool {
	return code == guard.CodeMissingTenantPredicate || code == guard.CodeMissingTenantColumn
}

// readInput resolves the SQL source: --file wins, then arguments, then stdin.
func readInput(cmd *cobra.Command, args []string, file string) (string, error) {
	if file != "" {
		if len(args) > 0 {
			return "", errors.New("pass SQL as arguments or --file, not both")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(data), nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
