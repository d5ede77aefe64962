package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/peterh/liner"
	"github.com/sameehj/fence/pkg/lang"
	"github.com/sameehj/fence/pkg/policy"
	"github.com/sameehj/fence/pkg/sandbox"
	"github.com/sameehj/fence/pkg/session"
	"github.com/spf13/cobra"
)

const (
	promptMain = "fence> "
	promptCont = "  ...> "
)

func replCmd() *cobra.Command {
	opts := &runOptions{}
	var watch bool
	var sessionID string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive session; variables persist between inputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSetup(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			bindings, err := parseBindings(opts.bindings)
			if err != nil {
				return err
			}
			r := newRepl(s, bindings, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if sessionID != "" {
				if err := r.attach(session.SessionID(sessionID)); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if watch && s.cfg.PolicyPath != "" {
				w := policy.NewWatcher(s.cfg.PolicyPath, r.swapPolicy)
				w.SetLogger(s.logger)
				go func() {
					if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
						s.logger.Error("policy_watch_failed", "error", err)
					}
				}()
			}
			return r.loop(ctx)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the policy file when it changes")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume and save a named session")
	cmd.Flags().AddFlagSet(opts.flagSet())
	return cmd
}

// repl keeps the bindings produced by each input and feeds them to the next.
type repl struct {
	s        *setup
	policy   atomic.Pointer[policy.Policy]
	bindings map[string]any
	out      io.Writer
	errOut   io.Writer

	store *session.Store
	saved *session.Session
}

func newRepl(s *setup, bindings map[string]any, out, errOut io.Writer) *repl {
	r := &repl{s: s, bindings: bindings, out: out, errOut: errOut}
	r.policy.Store(s.policy)
	return r
}

// attach resumes a saved session. Flag bindings win over saved ones.
func (r *repl) attach(id session.SessionID) error {
	r.store = session.NewStore(r.s.cfg.StateDir)
	sess, err := r.store.Load(id)
	if err != nil {
		return err
	}
	for k, v := range r.bindings {
		sess.Bindings[k] = v
	}
	r.bindings = sess.Bindings
	r.saved = sess
	return nil
}

// persist records an input in the attached session, if any.
func (r *repl) persist(e session.Entry) {
	if r.saved == nil {
		return
	}
	r.saved.Policy = r.policy.Load().Fingerprint()
	if dropped := r.saved.SetBindings(r.bindings); len(dropped) > 0 {
		r.s.logger.Debug("session_bindings_dropped", "session", r.saved.ID, "names", dropped)
	}
	r.saved.Record(e)
	if err := r.store.Save(r.saved); err != nil {
		r.s.logger.Warn("session_save_failed", "session", r.saved.ID, "error", err)
	}
}

func (r *repl) swapPolicy(p *policy.Policy) {
	r.policy.Store(p)
	fmt.Fprintln(r.errOut, dimStyle.Render("policy reloaded "+p.Fingerprint()))
}

func (r *repl) loop(ctx context.Context) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(r.s.cfg.HistoryPath); err == nil {
		_, _ = ln.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory(ln)

	fmt.Fprintln(r.out, dimStyle.Render("fence repl, :help for commands"))
	for {
		code, ok := readByParseProbe(ln, promptMain, promptCont)
		if !ok {
			fmt.Fprintln(r.out)
			return nil
		}
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, ":") {
			if quit := r.command(trimmed); quit {
				return nil
			}
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))
		r.eval(ctx, code)
	}
}

// eval runs one input. On success the worker's bindings replace the
// session's.
func (r *repl) eval(ctx context.Context, code string) {
	cfg := r.s.sandboxConfig(r.policy.Load(), r.bindings, r.out)
	res, err := sandbox.NewRunner(cfg).Run(ctx, sandbox.Source(code))
	if err != nil {
		fmt.Fprintln(r.errOut, renderError(err))
		entry := session.Entry{Input: code, Error: err.Error()}
		var serr *sandbox.Error
		if errors.As(err, &serr) {
			entry.Kind = serr.Kind.String()
		}
		r.persist(entry)
		return
	}
	r.bindings = res.Bindings
	fmt.Fprintln(r.out, renderValue(res.Value))
	r.persist(session.Entry{Input: code, Result: lang.FormatValue(res.Value)})
}

func (r *repl) command(line string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case ":quit", ":q":
		return true
	case ":help":
		fmt.Fprintln(r.out, ":vars      list bound variables\n:policy    show the active policy\n:check X   report violations in X without running it\n:reset     drop all variables\n:sessions  list saved sessions\n:quit      leave")
	case ":vars":
		names := make([]string, 0, len(r.bindings))
		for k := range r.bindings {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(r.out, "%s = %s\n", k, lang.FormatValue(r.bindings[k]))
		}
	case ":policy":
		p := r.policy.Load()
		fmt.Fprintf(r.out, "fingerprint %s, range limit %d\n", p.Fingerprint(), p.RangeMax())
	case ":check":
		src := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		tree, err := lang.Parse(src)
		if err != nil {
			fmt.Fprintln(r.errOut, renderError(err))
			break
		}
		fmt.Fprintln(r.out, renderReport(r.policy.Load().Report(tree)))
	case ":reset":
		r.bindings = map[string]any{}
	case ":sessions":
		ids, err := session.NewStore(r.s.cfg.StateDir).List()
		if err != nil {
			fmt.Fprintln(r.errOut, renderError(err))
			break
		}
		for _, id := range ids {
			fmt.Fprintln(r.out, id)
		}
	default:
		fmt.Fprintln(r.errOut, "unknown command. Type :help for a list.")
	}
	return false
}

func (r *repl) saveHistory(ln *liner.State) {
	path := r.s.cfg.HistoryPath
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.s.logger.Warn("history_save_failed", "error", err)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		r.s.logger.Warn("history_save_failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := ln.WriteHistory(f); err != nil {
		r.s.logger.Warn("history_save_failed", "error", err)
	}
}

// readByParseProbe keeps reading continuation lines while the input so far
// only fails to parse because it ends early.
func readByParseProbe(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder
	for {
		p := prompt
		if b.Len() > 0 {
			p = cont
		}
		line, err := ln.Prompt(p)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if _, perr := lang.Parse(src); perr != nil && lang.IsIncomplete(perr) {
			continue
		}
		return src, true
	}
}
