package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrEthical07/goElevate"
)

type app struct {
	client     *goElevate.Client
	in         *bufio.Reader
	out        io.Writer
	readSecret func() (string, error)

	watching bool
}

const helpText = `commands:
  login        sign in with username and password
  code         answer a pending challenge with the authenticator code
  backup       answer a pending challenge with a backup code
  status       show the session and where it leads
  setup        enroll an authenticator app
  confirm      finish enrollment with the first code
  disable      turn the second factor off
  backup-codes issue a fresh set of backup codes
  watch        print push events as they arrive
  logout       end the session
  exit         quit`

// loop reads commands until EOF, exit or ctx ends.
func (a *app) loop(ctx context.Context) {
	fmt.Fprintln(a.out, "type help for commands")
	for ctx.Err() == nil {
		fmt.Fprintf(a.out, "authctl %s> ", a.status())
		line, err := readLine(a.in)
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if !a.exec(ctx, fields[0]) {
			return
		}
	}
}

// exec runs one command and reports whether the loop continues.
func (a *app) exec(ctx context.Context, cmd string) bool {
	var err error
	switch cmd {
	case "help", "?":
		fmt.Fprintln(a.out, helpText)
	case "login":
		err = a.login(ctx)
	case "code":
		err = a.answer(ctx, false)
	case "backup":
		err = a.answer(ctx, true)
	case "status":
		a.printStatus(ctx)
	case "setup":
		err = a.setup(ctx)
	case "confirm":
		err = a.confirm(ctx)
	case "disable":
		err = a.disable(ctx)
	case "backup-codes":
		err = a.regenerate(ctx)
	case "watch":
		a.watch(ctx)
	case "logout":
		err = a.client.Logout(ctx)
		if err == nil {
			fmt.Fprintln(a.out, "signed out")
		}
	case "exit", "quit":
		fmt.Fprintln(a.out, "bye")
		return false
	default:
		fmt.Fprintln(a.out, "unknown command:", cmd)
	}
	if err != nil {
		fmt.Fprintln(a.out, "error:", explain(err))
	}
	return true
}

func (a *app) status() string {
	view := a.client.Session().View()
	switch {
	case view.IsElevated():
		return "elevated"
	case challengeOpen(a.client.TwoFactor().Current()):
		return "challenge"
	case view.Authenticated:
		return "signed-in"
	default:
		return "signed-out"
	}
}

func (a *app) login(ctx context.Context) error {
	fmt.Fprint(a.out, "username: ")
	username, err := readLine(a.in)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, "password: ")
	password, err := a.readSecret()
	if err != nil {
		return err
	}

	out, err := a.client.Login(ctx, username, password)
	if err != nil {
		return err
	}
	switch out.Kind {
	case goElevate.OutcomeElevated:
		return a.arrived()
	case goElevate.OutcomeTwoFactorRequired:
		fmt.Fprintln(a.out, "second factor required")
		return a.answer(ctx, false)
	case goElevate.OutcomeRateLimited:
		fmt.Fprintf(a.out, "rate limited: %s", out.Message)
		if out.RetryAfter > 0 {
			fmt.Fprintf(a.out, " (retry in %s)", out.RetryAfter.Round(time.Second))
		}
		fmt.Fprintln(a.out)
	default:
		msg := out.Message
		if msg == "" {
			msg = string(out.Reason)
		}
		fmt.Fprintln(a.out, "rejected:", msg)
		if out.CaptchaRequired {
			fmt.Fprintln(a.out, "the next attempt will ask for a captcha")
		}
	}
	return nil
}

// answer submits a code for the pending challenge. An empty authenticator
// code switches to a backup code.
func (a *app) answer(ctx context.Context, backup bool) error {
	ch := a.client.TwoFactor().Current()
	if !challengeOpen(ch) {
		return goElevate.ErrNoChallenge
	}
	if !backup {
		fmt.Fprint(a.out, "authenticator code (empty for a backup code): ")
		code, err := a.readSecret()
		if err != nil {
			return err
		}
		if code != "" {
			if _, err := a.client.SubmitCode(ctx, ch.UserID, code); err != nil {
				return err
			}
			return a.arrived()
		}
	}
	fmt.Fprint(a.out, "backup code: ")
	code, err := a.readSecret()
	if err != nil {
		return err
	}
	if _, err := a.client.SubmitBackupCode(ctx, ch.UserID, code); err != nil {
		return err
	}
	return a.arrived()
}

func (a *app) arrived() error {
	dest, err := a.client.Destination()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "signed in as %s, continue to %s\n", describe(a.client.Session().View()), dest.Path)
	return nil
}

func (a *app) printStatus(ctx context.Context) {
	view, err := a.client.Session().Refresh(ctx)
	if err != nil {
		fmt.Fprintln(a.out, "refresh failed, showing cached state:", explain(err))
		view = a.client.Session().View()
	}
	if !view.Authenticated {
		fmt.Fprintln(a.out, "not signed in")
		return
	}
	fmt.Fprintln(a.out, "user:", describe(view))
	fmt.Fprintf(a.out, "second factor: enabled=%t verified=%t\n", view.TwoFactorEnabled, view.TwoFactorVerified)
	if view.Identity != nil && view.Identity.VerificationStatus != "" {
		fmt.Fprintln(a.out, "verification:", view.Identity.VerificationStatus)
	}
	if dest, err := a.client.Destination(); err == nil {
		fmt.Fprintln(a.out, "destination:", dest.Path)
	}
}

func (a *app) setup(ctx context.Context) error {
	s, err := a.client.TwoFactor().BeginSetup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "add this secret to your authenticator app:", s.Secret)
	if s.QRPayload != "" {
		fmt.Fprintln(a.out, "or scan:", s.QRPayload)
	}
	fmt.Fprintln(a.out, "then run confirm with the first code")
	return nil
}

func (a *app) confirm(ctx context.Context) error {
	fmt.Fprint(a.out, "code: ")
	code, err := a.readSecret()
	if err != nil {
		return err
	}
	codes, err := a.client.TwoFactor().ConfirmSetup(ctx, code)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "second factor enabled")
	a.printCodes(codes)
	return nil
}

func (a *app) disable(ctx context.Context) error {
	fmt.Fprint(a.out, "authenticator code (empty for a backup code): ")
	code, err := a.readSecret()
	if err != nil {
		return err
	}
	backup := code == ""
	if backup {
		fmt.Fprint(a.out, "backup code: ")
		if code, err = a.readSecret(); err != nil {
			return err
		}
	}
	if err := a.client.TwoFactor().Disable(ctx, code, backup); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "second factor disabled")
	return nil
}

func (a *app) regenerate(ctx context.Context) error {
	codes, err := a.client.TwoFactor().RegenerateBackupCodes(ctx)
	if err != nil {
		return err
	}
	a.printCodes(codes)
	return nil
}

func (a *app) printCodes(codes []goElevate.BackupCode) {
	fmt.Fprintln(a.out, "backup codes, each works once:")
	for _, c := range codes {
		if !c.Spent {
			fmt.Fprintln(a.out, " ", c.Value)
		}
	}
}

// watch starts the push bridge once for the rest of the process.
func (a *app) watch(ctx context.Context) {
	if a.watching {
		fmt.Fprintln(a.out, "already watching")
		return
	}
	a.watching = true
	br := a.client.Bridge()
	for _, topic := range []string{goElevate.TopicTransactionConfirmed, goElevate.TopicVerificationStatusChanged} {
		br.Subscribe(topic, func(_ context.Context, ev goElevate.Event) {
			fmt.Fprintf(a.out, "\n[%s] %s %s\n", ev.At.Format(time.TimeOnly), ev.Topic, ev.Data)
		})
	}
	go func() {
		if err := br.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(a.out, "\npush stopped:", explain(err))
		}
	}()
	fmt.Fprintln(a.out, "watching push events")
}

func challengeOpen(ch goElevate.AuthChallenge) bool {
	return ch.State == goElevate.ChallengePending || ch.State == goElevate.ChallengeFailed
}

func describe(view goElevate.SessionView) string {
	if view.Identity == nil {
		return "unknown user"
	}
	if view.Identity.Username != "" {
		return view.Identity.Username
	}
	return "user " + view.Identity.ID
}

func explain(err error) string {
	rej, ok := goElevate.AsRejection(err)
	if !ok {
		return err.Error()
	}
	msg := rej.Error()
	if rej.AttemptsRemaining >= 0 {
		msg += fmt.Sprintf(" (%d attempts left)", rej.AttemptsRemaining)
	}
	if rej.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry in %s)", rej.RetryAfter.Round(time.Second))
	}
	return msg
}
