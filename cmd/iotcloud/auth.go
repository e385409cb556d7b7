package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/alexjbarnes/iotcloud/internal/cloud"
	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
	"github.com/alexjbarnes/iotcloud/internal/models"
	"github.com/alexjbarnes/iotcloud/internal/session"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
)

// statusView is the printable session summary. It never carries the
// token value.
type statusView struct {
	State       string `json:"state" yaml:"state"`
	Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Username    string `json:"username,omitempty" yaml:"username,omitempty"`
}

func newStatusView(snap session.Snapshot) statusView {
	v := statusView{State: snap.State.String()}
	if snap.Token != nil {
		v.Fingerprint = snap.Token.Fingerprint()
	}

	return v
}

func (c *cli) loginCmd() *cobra.Command {
	var token, otp string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with account credentials or an existing access token",
		Long: `Sign in and store the access token encrypted in the state directory.

Credentials come from CLOUD_USERNAME and CLOUD_PASSWORD, or are prompted
for on stdin. Accounts with two-step login need --otp or CLOUD_MFA_SECRET.`,
		Args: cobra.NoArgs,
	}

	cmd.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
		if token != "" {
			if _, err := a.session.Login(ctx, models.AccessToken{Value: token}); err != nil {
				return fmt.Errorf("login: %w", err)
			}

			return c.print(cmd, newStatusView(a.session.Snapshot()))
		}

		code, err := oneTimePassword(otp, a.cfg.MFASecret, time.Now())
		if err != nil {
			return err
		}

		creds := a.cfg.Credentials(code)
		if err := promptCredentials(cmd.InOrStdin(), cmd.ErrOrStderr(), &creds); err != nil {
			return err
		}

		_, err = a.session.LoginWithCredentials(ctx, creds)
		if apperr.IsServerCode(err, cloud.MFARequiredCode) {
			return fmt.Errorf("two-step login required, pass --otp or set CLOUD_MFA_SECRET: %w", err)
		}

		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		return c.print(cmd, newStatusView(a.session.Snapshot()))
	})

	cmd.Flags().StringVar(&token, "token", "", "adopt an existing access token instead of minting one")
	cmd.Flags().StringVar(&otp, "otp", "", "one-time password for two-step login")

	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored access token and forget it",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
		if err := a.session.Logout(ctx); err != nil {
			// The local token is gone even when the revoke failed.
			if a.session.State() == session.Unauthenticated {
				a.logger.Warn("token forgotten locally but remote revoke failed", slog.String("error", err.Error()))
				return c.print(cmd, newStatusView(a.session.Snapshot()))
			}

			return fmt.Errorf("logout: %w", err)
		}

		return c.print(cmd, newStatusView(a.session.Snapshot()))
	})

	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a valid access token is stored",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = c.withApp(func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
		view := newStatusView(a.session.Snapshot())

		if a.session.State() == session.Authenticated {
			user, err := a.api.CurrentUser(ctx)
			if err != nil {
				a.logger.Warn("could not look up account", slog.String("error", err.Error()))
			} else {
				view.Username = user.Username
			}
		}

		return c.print(cmd, view)
	})

	return cmd
}

// oneTimePassword returns the explicit code when given, otherwise a TOTP
// code derived from secret, otherwise "".
func oneTimePassword(code, secret string, now time.Time) (string, error) {
	if code != "" {
		return code, nil
	}

	if secret == "" {
		return "", nil
	}

	generated, err := totp.GenerateCode(secret, now)
	if err != nil {
		return "", fmt.Errorf("generating one-time password: %w", err)
	}

	return generated, nil
}

// promptCredentials asks for whichever of username and password is
// missing, one line each. Passwords are taken verbatim, surrounding
// spaces included.
func promptCredentials(in io.Reader, out io.Writer, creds *models.Credentials) error {
	scanner := bufio.NewScanner(in)

	ask := func(label string, trim bool) (string, error) {
		fmt.Fprintf(out, "%s: ", label)

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
			}

			return "", fmt.Errorf("reading %s: no input", strings.ToLower(label))
		}

		// The scanner already dropped the line terminator.
		value := scanner.Text()
		if trim {
			value = strings.TrimSpace(value)
		}

		if value == "" {
			return "", fmt.Errorf("%s must not be empty", strings.ToLower(label))
		}

		return value, nil
	}

	var err error

	if creds.Username == "" {
		if creds.Username, err = ask("Username", true); err != nil {
			return err
		}
	}

	if creds.Password == "" {
		if creds.Password, err = ask("Password", false); err != nil {
			return err
		}
	}

	return nil
}
