package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sameehj/fence/pkg/config"
	"github.com/sameehj/fence/pkg/env"
	"github.com/sameehj/fence/pkg/exec"
	"github.com/sameehj/fence/pkg/lang"
	"github.com/sameehj/fence/pkg/logging"
	"github.com/sameehj/fence/pkg/policy"
	"github.com/sameehj/fence/pkg/sandbox"
	"github.com/sameehj/fence/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var cfgFile string

// runOptions are the flags shared by eval, check and repl.
type runOptions struct {
	policyPath string
	timeout    string
	discard    bool
	bindings   map[string]string
}

func (o *runOptions) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.StringVarP(&o.policyPath, "policy", "p", "", "policy file (YAML or JSONC); empty means unrestricted")
	fs.StringVarP(&o.timeout, "timeout", "t", "", "evaluation timeout, e.g. 500ms (default from config)")
	fs.BoolVar(&o.discard, "discard", false, "drop program output")
	fs.StringToStringVar(&o.bindings, "bind", nil, "initial variable, name=value (repeatable)")
	return fs
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fence",
		Short:         "Evaluate untrusted code under a capability policy",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, err := os.Getwd(); err == nil {
				if _, err := env.LoadFromDir(dir); err != nil {
					return fmt.Errorf("load .env: %w", err)
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.fence/config.yaml)")

	root.AddCommand(evalCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(replCmd())
	root.AddCommand(versionCmd())
	return root
}

// setup is everything a command needs to evaluate code.
type setup struct {
	cfg    *config.Config
	policy *policy.Policy
	logger *slog.Logger
	engine *lang.Engine
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
			path = config.DefaultConfigPath()
		}
	}
	return config.LoadConfig(path)
}

func newSetup(opts *runOptions, stderr io.Writer) (*setup, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if opts.policyPath != "" {
		cfg.PolicyPath = opts.policyPath
	}
	if opts.timeout != "" {
		d, err := config.ParseTimeout(opts.timeout)
		if err != nil {
			return nil, fmt.Errorf("--timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if opts.discard {
		cfg.Output = "discard"
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	p := policy.Unrestricted()
	if cfg.PolicyPath != "" {
		p, err = policy.Load(cfg.PolicyPath)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("policy_unrestricted", "reason", "no policy file configured")
	}

	engine := lang.NewEngine(lang.Options{
		Executor: &exec.SafeExecutor{
			Timeout:   cfg.CommandTimeout,
			MaxOutput: cfg.MaxOutput,
			Blocklist: cfg.Blocklist,
		},
	})
	return &setup{cfg: cfg, policy: p, logger: logger, engine: engine}, nil
}

func (s *setup) sandboxConfig(p *policy.Policy, bindings map[string]any, stdout io.Writer) sandbox.Config {
	out := sandbox.HandleOutput(sandbox.NewHandle(stdout))
	if s.cfg.Output == "discard" {
		out = sandbox.DiscardOutput
	}
	return sandbox.Config{
		Policy:   p,
		Timeout:  s.cfg.Timeout,
		Output:   out,
		Bindings: bindings,
		Engine:   s.engine,
		Logger:   s.logger,
	}
}

func evalCmd() *cobra.Command {
	opts := &runOptions{}
	var expr string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "eval [FILE]",
		Short: "Evaluate a file, an expression (-e) or standard input",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(cmd.InOrStdin(), expr, args)
			if err != nil {
				return err
			}
			s, err := newSetup(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			bindings, err := parseBindings(opts.bindings)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := sandbox.NewRunner(s.sandboxConfig(s.policy, bindings, cmd.OutOrStdout()))
			res, err := runner.Run(ctx, sandbox.Source(src))
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resultDocument(res, err))
			}
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), renderError(err))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderValue(res.Value))
			return nil
		},
	}
	cmd.Flags().StringVarP(&expr, "expr", "e", "", "code to evaluate")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	cmd.Flags().AddFlagSet(opts.flagSet())
	return cmd
}

func checkCmd() *cobra.Command {
	opts := &runOptions{}
	var expr string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check [FILE]",
		Short: "Report every operation the policy would reject, without running anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(cmd.InOrStdin(), expr, args)
			if err != nil {
				return err
			}
			s, err := newSetup(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			tree, err := lang.Parse(src)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), renderError(err))
				return err
			}
			report := s.policy.Report(tree)
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
			}
			return report.Err()
		},
	}
	cmd.Flags().StringVarP(&expr, "expr", "e", "", "code to check")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().AddFlagSet(opts.flagSet())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "fence "+version.String())
		},
	}
}

func readSource(stdin io.Reader, expr string, args []string) (string, error) {
	switch {
	case expr != "" && len(args) > 0:
		return "", errors.New("give either a file or -e, not both")
	case expr != "":
		return expr, nil
	case len(args) == 1 && args[0] != "-":
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read source: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

// parseBindings turns name=value flags into program values. Values that
// look like integers, floats or booleans get those types.
func parseBindings(raw map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for name, value := range raw {
		if name == "" || !isIdentifier(name) {
			return nil, fmt.Errorf("--bind: invalid variable name %q", name)
		}
		out[name] = parseScalar(value)
	}
	return out, nil
}

func parseScalar(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r >= 'A' && r <= 'Z'):
		default:
			return false
		}
	}
	return true
}

type outcome struct {
	OK       bool           `json:"ok"`
	Value    string         `json:"value,omitempty"`
	Bindings map[string]any `json:"bindings,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Error    string         `json:"error,omitempty"`
	ID       string         `json:"id,omitempty"`
}

func resultDocument(res sandbox.Result, err error) outcome {
	if err != nil {
		doc := outcome{Error: err.Error()}
		var serr *sandbox.Error
		if errors.As(err, &serr) {
			doc.Kind, doc.ID = serr.Kind.String(), serr.ID
		}
		return doc
	}
	bindings := make(map[string]any, len(res.Bindings))
	for k, v := range res.Bindings {
		bindings[k] = lang.FormatValue(v)
	}
	return outcome{OK: true, Value: lang.FormatValue(res.Value), Bindings: bindings}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
