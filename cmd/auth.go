package cmd

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/teemow/mailgate/internal/config"
	"github.com/teemow/mailgate/internal/credential"
	"github.com/teemow/mailgate/internal/logging"
	"github.com/teemow/mailgate/internal/server"
)

// loginTimeout bounds how long auth login waits for the browser callback.
const loginTimeout = 5 * time.Minute

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored Microsoft Graph credential",
		Long: `Log in to Microsoft Graph, inspect the stored credential and its consent
history, or remove it. The credential is stored encrypted with MCP_TOKEN_KEY.`,
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthConsentCmd())
	return cmd
}

// newAuthContext builds a server context for the auth commands. Log output
// goes to stderr so tables on stdout stay clean.
func newAuthContext(ctx context.Context, debug bool) (*server.ServerContext, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return server.NewServerContext(ctx, server.Options{
		Config: cfg,
		Logger: logging.New(os.Stderr, logging.Options{Debug: debug}),
	})
}

func newAuthLoginCmd() *cobra.Command {
	var (
		debug     bool
		noBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser and store the credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			sc, err := newAuthContext(ctx, debug)
			if err != nil {
				return err
			}
			defer func() { _ = sc.Shutdown() }()

			return runLogin(ctx, cmd.OutOrStdout(), sc, noBrowser)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the login URL instead of opening a browser")
	return cmd
}

func runLogin(ctx context.Context, out io.Writer, sc *server.ServerContext, noBrowser bool) error {
	cfg := sc.Config()
	if cfg.TestMode {
		rec, err := sc.Refresher().StoreTestCredential(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Stored test credential (expires %s)\n", rec.ExpiresAt.Format(time.RFC3339))
		return nil
	}

	redirect, err := url.Parse(cfg.RedirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect URI %q: %w", cfg.RedirectURI, err)
	}
	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("failed to listen for the login callback on %s: %w", redirect.Host, err)
	}

	state := uuid.NewString()
	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.Handle(callbackPath(redirect), newCallbackHandler(state, results))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.OAuth2Config().AuthCodeURL(state)
	if noBrowser || openBrowser(authURL) != nil {
		fmt.Fprintf(out, "\nPlease open this URL in your browser:\n  %s\n\n", authURL)
	} else {
		fmt.Fprintln(out, "Opening browser for authentication...")
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Waiting for the browser login to finish..."
	s.Start()
	defer s.Stop()

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(loginTimeout):
		return errors.New("timed out waiting for the login callback")
	}
	if res.err != nil {
		s.FinalMSG = text.FgRed.Sprint("Login failed") + "\n"
		return res.err
	}

	rec, err := sc.Refresher().Exchange(ctx, res.code)
	if err != nil {
		s.FinalMSG = text.FgRed.Sprint("Login failed") + "\n"
		return fmt.Errorf("failed to exchange the authorization code: %w", err)
	}
	s.FinalMSG = text.FgGreen.Sprint("Login complete") + "\n"
	s.Stop()

	fmt.Fprintf(out, "Granted scopes: %s\n", strings.Join(rec.Scopes, " "))
	fmt.Fprintf(out, "Token stored in %s\n", cfg.TokenFile)
	return nil
}

func callbackPath(redirect *url.URL) string {
	if redirect.Path == "" {
		return "/"
	}
	return redirect.Path
}

type callbackResult struct {
	code string
	err  error
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>mailgate</title></head>
<body><h1>{{.Title}}</h1><p>{{.Message}}</p></body></html>`))

// newCallbackHandler accepts one redirect carrying the expected state and
// reports its code on results. Requests with a wrong state are answered
// but not reported.
func newCallbackHandler(state string, results chan<- callbackResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := struct{ Title, Message string }{"Login complete", "You can close this window and return to the terminal."}

		var res callbackResult
		switch {
		case q.Get("state") != state:
			w.WriteHeader(http.StatusBadRequest)
			page.Title, page.Message = "Login failed", "The login state does not match. Start the login again."
			_ = callbackPage.Execute(w, page)
			return
		case q.Get("error") != "":
			res.err = fmt.Errorf("login failed: %s %s", q.Get("error"), q.Get("error_description"))
			page.Title, page.Message = "Login failed", q.Get("error_description")
		case q.Get("code") == "":
			res.err = errors.New("the login callback carries no code")
			page.Title, page.Message = "Login failed", "No authorization code was returned."
		default:
			res.code = q.Get("code")
		}

		select {
		case results <- res:
		default:
		}
		if res.err != nil {
			w.WriteHeader(http.StatusBadRequest)
		}
		_ = callbackPage.Execute(w, page)
	})
}

// openBrowser opens target in the default browser without waiting for it.
func openBrowser(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", target)
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", target)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := newAuthContext(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = sc.Shutdown() }()

			renderStatus(cmd.OutOrStdout(), sc.Config(), sc.CredentialState(), sc.Refresher().Current())
			return nil
		},
	}
}

func renderStatus(w io.Writer, cfg config.Config, state string, rec *credential.Record) {
	t := newTable(w)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("FIELD"), text.FgHiCyan.Sprint("VALUE")})

	stateText := state
	switch state {
	case server.CredentialAuthenticated:
		stateText = text.FgGreen.Sprint(state)
	case server.CredentialExpired, server.CredentialTestLeftover:
		stateText = text.FgYellow.Sprint(state)
	}
	t.AppendRow(table.Row{"state", stateText})
	t.AppendRow(table.Row{"scope profile", cfg.ScopeProfile})
	t.AppendRow(table.Row{"confirm mode", cfg.ConfirmMode().String()})
	t.AppendRow(table.Row{"test mode", cfg.TestMode})
	t.AppendRow(table.Row{"token file", cfg.TokenFile})

	if rec != nil {
		t.AppendRow(table.Row{"scopes", strings.Join(rec.Scopes, " ")})
		t.AppendRow(table.Row{"issued at", formatTime(rec.IssuedAt)})
		t.AppendRow(table.Row{"expires at", formatTime(rec.ExpiresAt)})
		t.AppendRow(table.Row{"refresh token", rec.RefreshToken != ""})
		t.AppendRow(table.Row{"source", string(rec.Consent.Source)})
	}
	t.Render()
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential and consent history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := newAuthContext(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = sc.Shutdown() }()

			if err := sc.Refresher().Clear(cmd.Context()); err != nil {
				return fmt.Errorf("failed to remove credential: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Credential and consent history removed.")
			return nil
		},
	}
}

func newAuthConsentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consent",
		Short: "Show the consent history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := newAuthContext(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = sc.Shutdown() }()

			entries, err := sc.ConsentLog().Entries()
			if err != nil {
				return fmt.Errorf("failed to read consent history: %w", err)
			}
			renderConsent(cmd.OutOrStdout(), entries)
			return nil
		},
	}
}

func renderConsent(w io.Writer, entries []credential.ConsentLogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No consent recorded"))
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "TIME", "SOURCE", "SCOPES"})
	for i, e := range entries {
		t.AppendRow(table.Row{i + 1, formatTime(e.Timestamp), string(e.Source), strings.Join(e.Scopes, " ")})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(entries)})
	t.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
