// Command spendly is the terminal expense tracker. Each invocation restores
// the persisted session, performs one action and prints the outcome.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"spendly/internal/app"
	"spendly/internal/backend"
	"spendly/internal/cli"
	"spendly/internal/config"
	"spendly/internal/core"
	"spendly/internal/export"
	"spendly/internal/log"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run parses global flags, builds the screen from configuration and
// dispatches a single command.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cli.LoadEnvFile()
	cfg := config.Load()

	fs := flag.NewFlagSet("spendly", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "backend: rest or memory")
	fs.StringVar(&cfg.BackendURL, "url", cfg.BackendURL, "backend service URL")
	fs.StringVar(&cfg.Features, "features", cfg.Features, "feature set: full or basic")
	fs.StringVar(&cfg.SessionFile, "session", cfg.SessionFile, "session file path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	color := fs.String("color", "auto", "colored output: auto, always or never")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() == 0 {
		usage(stderr, fs)
		return exitUsage
	}

	logger := cli.SetupLogger(cfg, log.ComponentApp, stderr)
	if err := cfg.ValidateClient(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	pal, err := newPalette(stdout, *color)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	ctx := context.Background()
	screen, err := newScreen(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer screen.Teardown()

	t := newTerminal(stdin, stdout, stderr)
	t.pal = pal
	return dispatch(ctx, t, screen, fs.Args())
}

func newScreen(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app.Screen, error) {
	features, ok := app.FeaturesByName(cfg.Features)
	if !ok {
		return nil, fmt.Errorf("unknown feature set %q", cfg.Features)
	}
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, err
	}
	sessions := app.NewSessionManager(res.Auth, res.Table, logger)
	store := app.NewExpenseStore(res.Table, sessions, logger)
	return app.NewScreen(sessions, store, features), nil
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, `Usage: spendly [flags] <command> [args]

Commands:
  signup -email EMAIL            create an account (password is prompted)
  login -email EMAIL             sign in (password is prompted)
  logout                         sign out
  status                         show the signed-in user
  list                           list expenses, newest first
  add -name N -amount A [-category C]
                                 record an expense
  delete ID                      delete an expense
  total                          print the running total
  categories                     list the available categories
  profile [-name N] [-photo F]   update display name and photo
  delete-account [-yes]          delete every expense and sign out
  export [-format F] [-o FILE]   write expenses as csv, yaml or xlsx

Flags:`)
	fs.PrintDefaults()
}

// terminal is the command's view of standard streams.
type terminal struct {
	in     *bufio.Reader
	rawIn  io.Reader
	stdout io.Writer
	stderr io.Writer
	pal    *palette
}

func newTerminal(stdin io.Reader, stdout, stderr io.Writer) *terminal {
	pal, _ := newPalette(stdout, "auto")
	return &terminal{in: bufio.NewReader(stdin), rawIn: stdin, stdout: stdout, stderr: stderr, pal: pal}
}

func (t *terminal) readLine(prompt string) (string, error) {
	fmt.Fprint(t.stderr, prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword hides input when stdin is a terminal and falls back to a
// plain line read otherwise.
func (t *terminal) readPassword(prompt string) (string, error) {
	if f, ok := t.rawIn.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(t.stderr, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(t.stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return t.readLine(prompt)
}

// Confirm implements app.Confirmer with a y/N question.
func (t *terminal) Confirm(prompt string) bool {
	answer, err := t.readLine(prompt + " [y/N]: ")
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

type command struct {
	needsID bool // requires a signed-in user
	run     func(ctx context.Context, t *terminal, s *app.Screen, args []string) error
}

var commands = map[string]command{
	"signup":         {run: cmdSignUp},
	"login":          {run: cmdLogin},
	"logout":         {run: cmdLogout},
	"status":         {run: cmdStatus},
	"categories":     {run: cmdCategories},
	"list":           {needsID: true, run: cmdList},
	"add":            {needsID: true, run: cmdAdd},
	"delete":         {needsID: true, run: cmdDelete},
	"total":          {needsID: true, run: cmdTotal},
	"profile":        {needsID: true, run: cmdProfile},
	"delete-account": {needsID: true, run: cmdDeleteAccount},
	"export":         {needsID: true, run: cmdExport},
}

func dispatch(ctx context.Context, t *terminal, s *app.Screen, args []string) int {
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(t.stderr, "unknown command %q\n", args[0])
		return exitUsage
	}

	sess := s.Restore(ctx)
	if cmd.needsID && !sess.Authenticated() {
		fmt.Fprintln(t.stderr, "Not signed in. Run 'spendly login -email EMAIL' first.")
		return exitError
	}

	s.DismissNotice()
	err := cmd.run(ctx, t, s, args[1:])
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.Is(err, core.ErrNotConfirmed):
		fmt.Fprintln(t.stderr, "Cancelled.")
		return exitError
	default:
		fmt.Fprintln(t.stderr, "Error:", core.UserMessage(err))
		return exitError
	}

	if n := s.Notice(); n.Kind == app.NoticeSuccess && n.Text != "" {
		fmt.Fprintln(t.stdout, n.Text)
	}
	return exitOK
}

var errUsage = errors.New("usage")

func newFlags(t *terminal, name string) *flag.FlagSet {
	fs := flag.NewFlagSet("spendly "+name, flag.ContinueOnError)
	fs.SetOutput(t.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	return nil
}

func credentials(t *terminal, s *app.Screen, name string, args []string, mode app.AuthMode) error {
	fs := newFlags(t, name)
	email := fs.String("email", "", "account email")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		e, err := t.readLine("Email: ")
		if err != nil {
			return err
		}
		*email = e
	}
	password, err := t.readPassword("Password: ")
	if err != nil {
		return err
	}
	s.SetMode(mode)
	s.SetCredentials(*email, password)
	return nil
}

func cmdSignUp(ctx context.Context, t *terminal, s *app.Screen, args []string) error {
	if err := credentials(t, s, "signup", args, app.ModeSignUp); err != nil {
		return err
	}
	return s.SubmitAuth(ctx)
}

func cmdLogin(ctx context.Context, t *terminal, s *app.Screen, args []string) error {
	if err := credentials(t, s, "login", args, app.ModeLogin); err != nil {
		return err
	}
	if err := s.SubmitAuth(ctx); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Signed in as %s\n", s.View().Session.Label())
	return nil
}

func cmdLogout(ctx context.Context, t *terminal, s *app.Screen, _ []string) error {
	s.Logout(ctx)
	fmt.Fprintln(t.stdout, "Signed out.")
	return nil
}

func cmdStatus(_ context.Context, t *terminal, s *app.Screen, _ []string) error {
	sess := s.View().Session
	if !sess.Authenticated() {
		fmt.Fprintln(t.stdout, "Not signed in.")
		return nil
	}
	fmt.Fprintf(t.stdout, "Signed in as %s <%s>\n", sess.Label(), sess.Email)
	if sess.ProfilePhoto != "" {
		fmt.Fprintln(t.stdout, "Profile photo: set")
	}
	return nil
}

func cmdCategories(_ context.Context, t *terminal, _ *app.Screen, _ []string) error {
	fmt.Fprint(t.stdout, t.pal.categories())
	return nil
}

func cmdList(ctx context.Context, t *terminal, s *app.Screen, _ []string) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	v := s.View()
	if len(v.Rows) == 0 {
		fmt.Fprintln(t.stdout, t.pal.muted.Render("No expenses yet."))
		return nil
	}
	fmt.Fprint(t.stdout, t.pal.expenses(v))
	return nil
}

func cmdAdd(ctx context.Context, t *terminal, s *app.Screen, args []string) error {
	fs := newFlags(t, "add")
	name := fs.String("name", "", "what the money was spent on")
	amount := fs.String("amount", "", "amount, dot or comma decimal separator")
	category := fs.String("category", "", "category (default "+core.DefaultCategory.String()+")")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var cat core.Category
	if strings.TrimSpace(*category) != "" {
		c, err := core.ParseCategory(*category)
		if err != nil {
			return &core.ValidationError{Fields: []string{"category"}, Message: "Unknown category " + *category}
		}
		cat = c
	}
	s.SetExpense(*name, *amount, cat)
	return s.AddExpense(ctx)
}

func cmdDelete(ctx context.Context, t *terminal, s *app.Screen, args []string) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		fmt.Fprintln(t.stderr, "usage: spendly delete ID")
		return errUsage
	}
	return s.DeleteExpense(ctx, core.RecordID(strings.TrimSpace(args[0])))
}

func cmdTotal(ctx context.Context, t *terminal, s *app.Screen, _ []string) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, s.View().Total)
	return nil
}

func cmdProfile(ctx context.Context, t *terminal, s *app.Screen, args []string) error {
	fs := newFlags(t, "profile")
	name := fs.String("name", "", "display name (default: keep current)")
	photoPath := fs.String("photo", "", "path to a profile image")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *photoPath != "" {
		if err := s.LoadPhoto(*photoPath); err != nil {
			return err
		}
	}
	displayName := *name
	if strings.TrimSpace(displayName) == "" {
		displayName = s.Form().DisplayName
	}
	return s.SaveProfile(ctx, displayName)
}

func cmdDeleteAccount(ctx context.Context, t *terminal, s *app.Screen, args []string) error {
	fs := newFlags(t, "delete-account")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	var confirm app.Confirmer = t
	if *yes {
		confirm = app.ConfirmFunc(func(string) bool { return true })
	}
	return s.DeleteAccount(ctx, confirm)
}

func cmdExport(ctx context.Context, t *terminal, s *app.Screen, args []string) error {
	fs := newFlags(t, "export")
	formatName := fs.String("format", string(export.CSV), "output format: csv, yaml or xlsx")
	out := fs.String("o", "", "output file (default: stdout)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	format, err := export.ParseFormat(*formatName)
	if err != nil {
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	records := make([]core.ExpenseRecord, 0, len(s.View().Rows))
	for _, r := range s.View().Rows {
		records = append(records, r.ExpenseRecord)
	}

	if *out == "" {
		return export.Write(t.stdout, format, records)
	}
	f, err := os.Create(*out)
	if err != nil {
		return &core.LocalIOError{Path: *out, Message: "Could not create " + *out, Err: err}
	}
	if err := export.Write(f, format, records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return &core.LocalIOError{Path: *out, Message: "Could not write " + *out, Err: err}
	}
	fmt.Fprintf(t.stdout, "Exported %d expenses to %s\n", len(records), *out)
	return nil
}
