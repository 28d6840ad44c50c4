// Package cmd implements the interactive command-line flows of the server binary.
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	grokauth "github.com/router-for-me/grok2api/internal/auth/grok"
	"github.com/router-for-me/grok2api/internal/config"
	"golang.org/x/term"
)

// LoginOptions customizes the interactive prompts, mainly for tests.
type LoginOptions struct {
	// Prompt reads a visible answer.
	Prompt func(prompt string) (string, error)
	// Secret reads an answer without echo. Defaults to Prompt when stdin is not a terminal.
	Secret func(prompt string) (string, error)
	Out    io.Writer
}

// DoGrokLogin prompts for a Grok SSO cookie and adds it to the token pool
// under cfg.AuthDir.
func DoGrokLogin(cfg *config.Config, options *LoginOptions) error {
	if options == nil {
		options = &LoginOptions{}
	}
	out := options.Out
	if out == nil {
		out = os.Stdout
	}
	prompt := options.Prompt
	if prompt == nil {
		reader := bufio.NewReader(os.Stdin)
		prompt = func(p string) (string, error) {
			_, _ = fmt.Fprint(out, p)
			text, err := reader.ReadString('\n')
			if err != nil && (err != io.EOF || text == "") {
				return "", err
			}
			return strings.TrimSpace(text), nil
		}
	}
	secret := options.Secret
	if secret == nil {
		secret = prompt
		if options.Prompt == nil && term.IsTerminal(int(os.Stdin.Fd())) {
			secret = func(p string) (string, error) {
				_, _ = fmt.Fprint(out, p)
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				_, _ = fmt.Fprintln(out)
				if err != nil {
					return "", err
				}
				return strings.TrimSpace(string(raw)), nil
			}
		}
	}

	_, _ = fmt.Fprintln(out, "Grok login:")
	_, _ = fmt.Fprintln(out, "1) Sign in at https://grok.com in your browser.")
	_, _ = fmt.Fprintln(out, "2) In DevTools open Application > Cookies > https://grok.com and copy the 'sso' cookie value.")

	sso, err := secret("SSO token: ")
	if err != nil {
		return fmt.Errorf("read SSO token: %w", err)
	}
	sso = grokauth.NormalizeSSOToken(sso)
	if sso == "" {
		return fmt.Errorf("SSO token cannot be empty")
	}

	kind, _ := prompt("Token type (normal/super, default normal): ")
	typ := grokauth.TokenNormal
	if strings.EqualFold(strings.TrimSpace(kind), "super") {
		typ = grokauth.TokenSuper
	}
	note, _ := prompt("Note (optional): ")

	if cfg == nil {
		cfg = config.Default()
	}
	store, err := grokauth.OpenTokenStore(cfg.AuthDir)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	if err = store.Add(sso, typ, strings.TrimSpace(note)); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	normal, super := store.Count()
	_, _ = fmt.Fprintf(out, "Saved %s to %s (%d normal, %d super)\n", grokauth.MaskToken(sso), store.Path(), normal, super)
	return nil
}
