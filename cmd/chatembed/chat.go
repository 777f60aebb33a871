package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatembed/internal/botconfig"
	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/widget"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a bot in the terminal, as a website visitor would",
	Long: `Chat with a bot in the terminal, as a website visitor would.

Examples:
  chatembed chat --bot-id 2f1c...
  chatembed chat --integration-id 91ab...
  chatembed chat --embed ./embed.yaml
  chatembed chat --bot-id demo --local`,
	RunE: func(cmd *cobra.Command, args []string) error {
		embed, err := embedFromFlags(cmd)
		if err != nil {
			return err
		}
		local, _ := cmd.Flags().GetBool("local")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, cfg, runtimeOptions{local: local, apiBaseURL: embed.APIBaseURL, anonKey: embed.AnonKey})
		if err != nil {
			return err
		}
		defer rt.Close()

		s, err := rt.ctrl.Init(ctx, embed.Source())
		if err != nil {
			printError("%s", s.Banner)
			return err
		}

		t := &terminal{ctrl: rt.ctrl, in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}
		return t.run(ctx, rt.ctrl.Open(s))
	},
}

func init() {
	chatCmd.Flags().String("bot-id", "", "bot to talk to")
	chatCmd.Flags().String("integration-id", "", "integration to load")
	chatCmd.Flags().String("embed", "", "embed document (YAML or JSON)")
	chatCmd.Flags().Bool("local", false, "use the local SQLite store instead of the REST API")
}

// embedFromFlags reads --embed, or builds an embed from --bot-id and
// --integration-id.
func embedFromFlags(cmd *cobra.Command) (widget.Embed, error) {
	path, _ := cmd.Flags().GetString("embed")
	botID, _ := cmd.Flags().GetString("bot-id")
	integrationID, _ := cmd.Flags().GetString("integration-id")

	if path == "" {
		e := widget.Embed{BotID: botID, IntegrationID: integrationID}
		return e, e.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return widget.Embed{}, fmt.Errorf("opening embed: %w", err)
	}
	defer f.Close()

	e, err := widget.LoadEmbed(f)
	if err != nil {
		return e, err
	}
	// Flags win over the document.
	if botID != "" {
		e.Bot, e.IntegrationID, e.BotID = nil, "", botID
	}
	if integrationID != "" {
		e.Bot, e.IntegrationID, e.BotID = nil, integrationID, ""
	}
	return e, nil
}

// terminal is an interactive widget host on stdin/stdout.
type terminal struct {
	ctrl *widget.Controller
	in   *bufio.Scanner
	out  io.Writer
}

func (t *terminal) run(ctx context.Context, s widget.Session) error {
	t.header(s)
	for _, m := range s.Messages {
		t.printMessage(m)
	}

	for ctx.Err() == nil {
		var err error
		switch s.Phase {
		case widget.PhaseContact:
			s, err = t.contactForm(ctx, s)
		case widget.PhaseDepartment:
			s, err = t.departmentStep(ctx, s)
		case widget.PhaseChatting:
			s, err = t.turn(ctx, s)
		default:
			return fmt.Errorf("widget cannot start: %s", s.Banner)
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(t.out)
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *terminal) header(s widget.Session) {
	fmt.Fprintln(t.out, colorize(colorBold, s.Bot().Name))
	if s.Bot().BrandingText != "" {
		fmt.Fprintln(t.out, colorize(colorDim, s.Bot().BrandingText))
	}
	if qa := s.Resolved.UI.QuickActions; len(qa) > 0 {
		fmt.Fprintln(t.out, colorize(colorDim, "Try: "+strings.Join(qa, " · ")))
	}
	fmt.Fprintln(t.out, colorize(colorDim, "Type /quit to leave."))
}

// readLine prompts and returns the next trimmed line, or io.EOF.
func (t *terminal) readLine(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	if !t.in.Scan() {
		if err := t.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	line := strings.TrimSpace(t.in.Text())
	if line == "/quit" {
		return "", io.EOF
	}
	return line, nil
}

func (t *terminal) contactForm(ctx context.Context, s widget.Session) (widget.Session, error) {
	fmt.Fprintln(t.out, "Please leave your contact details so we can follow up.")
	email, err := t.readLine("Email: ")
	if err != nil {
		return s, err
	}
	phone, err := t.readLine("Phone: ")
	if err != nil {
		return s, err
	}

	next, err := t.ctrl.SubmitContact(ctx, s, email, phone)
	if err != nil {
		fields, ok := widget.FormErrors(err)
		if !ok {
			return s, err
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printError("%s", fields[k])
		}
		return s, nil
	}
	t.printHistory(next)
	return next, nil
}

func (t *terminal) departmentStep(ctx context.Context, s widget.Session) (widget.Session, error) {
	fmt.Fprintln(t.out, "Who would you like to talk to?")
	depts := s.Resolved.Departments
	for i, d := range depts {
		fmt.Fprintf(t.out, "  %d) %s\n", i+1, departmentTitle(d))
	}
	line, err := t.readLine("Choice: ")
	if err != nil {
		return s, err
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(depts) {
		printWarning("enter a number between 1 and %d", len(depts))
		return s, nil
	}

	next, err := t.ctrl.SelectDepartment(ctx, s, depts[n-1].BotID)
	if err != nil {
		var fetchErr *botconfig.FetchError
		if errors.As(err, &fetchErr) {
			printError("%s", widget.ConfigBanner)
			return s, nil
		}
		if _, ok := widget.FormErrors(err); ok {
			printError("%s", widget.ResolutionFailedText)
			return s, nil
		}
		return s, err
	}
	fmt.Fprintln(t.out, colorize(colorBold, next.Bot().Name))
	t.printHistory(next)
	return next, nil
}

func (t *terminal) turn(ctx context.Context, s widget.Session) (widget.Session, error) {
	line, err := t.readLine(colorize(colorCyan, "> "))
	if err != nil {
		return s, err
	}
	if line == "" {
		return s, nil
	}
	return t.ctrl.Send(ctx, s, line, nil, &termRenderer{out: t.out})
}

func (t *terminal) printHistory(s widget.Session) {
	for _, m := range s.Messages {
		t.printMessage(m)
	}
}

func (t *terminal) printMessage(m widget.ChatMessage) {
	if m.Role == model.RoleUser {
		fmt.Fprintf(t.out, "%s %s\n", colorize(colorCyan, ">"), m.Text)
		return
	}
	if m.Text != "" {
		fmt.Fprintln(t.out, m.Text)
	}
	writeAffordance(t.out, m.Affordance)
}

func departmentTitle(d model.Department) string {
	switch {
	case d.Label != "" && d.Name != "":
		return d.Label + " (" + d.Name + ")"
	case d.Label != "":
		return d.Label
	case d.Name != "":
		return d.Name
	default:
		return d.BotID
	}
}

// termRenderer streams the bot reply as plain text. Visible text normally
// grows by appending; when directive stripping rewrites it, the final message
// is printed again on its own line.
type termRenderer struct {
	out     io.Writer
	printed string
}

func (r *termRenderer) Delta(text, _ string) {
	if !strings.HasPrefix(text, r.printed) {
		return
	}
	fmt.Fprint(r.out, text[len(r.printed):])
	r.printed = text
}

func (r *termRenderer) Message(m widget.ChatMessage) {
	if m.Role == model.RoleUser {
		return
	}
	switch {
	case m.Local:
		if r.printed != "" {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintln(r.out, colorize(colorRed, m.Text))
	case r.printed == m.Text:
		if m.Text != "" {
			fmt.Fprintln(r.out)
		}
	default:
		if r.printed != "" {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintln(r.out, m.Text)
	}
	writeAffordance(r.out, m.Affordance)
	r.printed = ""
}
