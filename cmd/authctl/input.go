package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MrEthical07/goElevate"
	"golang.org/x/term"
)

// readTerminalSecret reads one line from the terminal without echo.
func readTerminalSecret() (string, error) {
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stdout)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// pasteCaptcha asks the operator to solve the challenge in a browser and
// paste the resulting token. An empty line cancels.
type pasteCaptcha struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *pasteCaptcha) Challenge(ctx context.Context, mode goElevate.ChallengeMode) (string, error) {
	if mode == goElevate.ModeInvisible {
		return "", errors.New("no invisible challenge in a terminal")
	}
	fmt.Fprint(p.out, "Captcha required. Paste the solved token (empty to cancel)\n> ")

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := readLine(p.in)
		ch <- result{line, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		if r.line == "" {
			return "", errors.New("captcha cancelled")
		}
		return r.line, nil
	}
}
