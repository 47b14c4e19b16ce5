package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shaman/internal/domain"
	"shaman/internal/identity"
	"shaman/internal/store"
)

func userCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "user",
		Short: "Sign in and manage your account",
		Long:  "Sessions are kept in the workspace settings; commands act as the signed-in user unless --user is given.",
	}
	u.AddCommand(userSignUpCmd())
	u.AddCommand(userSignInCmd())
	u.AddCommand(userFederatedCmd())
	u.AddCommand(userSignOutCmd())
	u.AddCommand(userWhoamiCmd())
	u.AddCommand(userResetCmd())
	u.AddCommand(userConsentCmd())
	return u
}

func credentialFlags(cmd *cobra.Command, email, password *string) {
	cmd.Flags().StringVar(email, "email", "", "email address")
	cmd.Flags().StringVar(password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
}

func remember(rt runtime, s identity.Session) error {
	if err := rt.Settings.SetUser(s.User.UID, s.User.Email, s.Token); err != nil {
		return err
	}
	if err := rt.Settings.SetEmailConsent(s.User.EmailConsent); err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(s.User)
	}
	fmt.Printf("signed in as %s (%s), session %s until %s\n", s.User.Email, s.User.UID, s.Persistence, s.ExpiresAt.Format("2006-01-02 15:04"))
	return nil
}

func userSignUpCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				s, err := rt.Identity.SignUp(ctx, email, password)
				if err != nil {
					return err
				}
				return remember(rt, s)
			})
		},
	}
	credentialFlags(cmd, &email, &password)
	return cmd
}

func userSignInCmd() *cobra.Command {
	var email, password string
	var rememberMe bool
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				s, err := rt.Identity.SignIn(ctx, email, password, rememberMe)
				if err != nil {
					return err
				}
				return remember(rt, s)
			})
		},
	}
	credentialFlags(cmd, &email, &password)
	cmd.Flags().BoolVar(&rememberMe, "remember", true, "keep the session beyond the default lifetime")
	return cmd
}

func userFederatedCmd() *cobra.Command {
	var code string
	var rememberMe bool
	cmd := &cobra.Command{
		Use:   "federated",
		Short: "Sign in with the configured identity provider",
		Long:  "Without --code prints the consent URL; open it, then run again with the code the provider returns.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				if code == "" {
					url, err := rt.Identity.AuthCodeURL(uuid.NewString())
					if err != nil {
						return err
					}
					fmt.Println(url)
					return nil
				}
				s, err := rt.Identity.SignInWithFederatedIdentity(ctx, code, rememberMe)
				if err != nil {
					return err
				}
				return remember(rt, s)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "authorization code returned by the provider")
	cmd.Flags().BoolVar(&rememberMe, "remember", true, "keep the session beyond the default lifetime")
	return cmd
}

func userSignOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				if token := rt.Settings.Snapshot().Token; token != "" {
					if err := rt.Identity.SignOut(ctx, token); err != nil && identity.CodeOf(err) != identity.CodeInvalidSession {
						return err
					}
				}
				if err := rt.Settings.SetUser("", "", ""); err != nil {
					return err
				}
				fmt.Println("signed out")
				return nil
			})
		},
	}
}

func userWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				uid, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				u, err := rt.Identity.User(ctx, uid)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func userResetCmd() *cobra.Command {
	var email, token, password string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset a forgotten password",
		Long:  "With --email sends a reset token; with --token and --password sets the new password.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				var err error
				switch {
				case token != "":
					if password == "" {
						return fmt.Errorf("--password required with --token")
					}
					err = rt.Identity.ConfirmPasswordReset(ctx, token, password)
				case email != "":
					err = rt.Identity.ResetPassword(ctx, email)
				default:
					return fmt.Errorf("--email or --token required")
				}
				if err != nil {
					return errors.New(identity.DescribeReset(err))
				}
				if token != "" {
					fmt.Println("password updated; sign in with the new password")
				} else {
					fmt.Println("Password reset email sent! Check your inbox.")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&token, "token", "", "reset token from the email")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	return cmd
}

func userConsentCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "consent <true|false>",
		Short:     "Opt in or out of email updates",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"true", "false"},
		RunE: func(cmd *cobra.Command, args []string) error {
			consent := args[0] == "true"
			if !consent && args[0] != "false" {
				return fmt.Errorf("expected true or false")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				uid, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				if err := rt.Identity.SetEmailConsent(ctx, uid, consent); err != nil {
					return err
				}
				return rt.Settings.SetEmailConsent(consent)
			})
		},
	}
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "profile",
		Short: "Personal details used to fill forms",
	}
	p.AddCommand(profileShowCmd())
	p.AddCommand(profileSetCmd())
	return p
}

func profileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				uid, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				p, err := rt.Engine.GetProfile(ctx, uid)
				if errors.Is(err, store.ErrUnavailable) {
					if cached := rt.Settings.Snapshot().Profile; cached != nil {
						rt.Logger.Printf("store unavailable, showing cached profile: %v", err)
						return printJSONOrTable(cached)
					}
				}
				if err != nil {
					return err
				}
				if err := rt.Settings.SetProfile(&p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func profileSetCmd() *cobra.Command {
	var fullName, phone, street, city, state, zip, country, signatureFile string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update profile fields",
		Long:  "Only the given fields change. --signature takes an image file that is normalized before saving.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var signature *string
			if signatureFile != "" {
				data, err := os.ReadFile(signatureFile)
				if err != nil {
					return err
				}
				url := "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
				signature = &url
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				uid, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				p, err := rt.Engine.GetProfile(ctx, uid)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				set := func(flag string, dst *string, v string) {
					if cmd.Flags().Changed(flag) {
						*dst = v
					}
				}
				set("full-name", &p.FullName, fullName)
				set("phone", &p.PhoneNumber, phone)
				set("street", &p.Address.Street, street)
				set("city", &p.Address.City, city)
				set("state", &p.Address.State, state)
				set("zip", &p.Address.ZipCode, zip)
				set("country", &p.Address.Country, country)
				if signature != nil {
					p.Signature = signature
				}
				saved, err := rt.Engine.SaveProfile(ctx, uid, p)
				if err != nil {
					return err
				}
				if err := rt.Settings.SetProfile(&saved); err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&fullName, "full-name", "", "full name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&street, "street", "", "street address")
	cmd.Flags().StringVar(&city, "city", "", "city")
	cmd.Flags().StringVar(&state, "state", "", "state or region")
	cmd.Flags().StringVar(&zip, "zip", "", "zip or postal code")
	cmd.Flags().StringVar(&country, "country", domain.DefaultCountry, "country")
	cmd.Flags().StringVar(&signatureFile, "signature", "", "signature image file (PNG or JPEG)")
	return cmd
}

func settingsCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "settings",
		Short: "Local preferences",
		Long:  "Preferences live in .shaman/settings.yml and are saved on every change. SHAMAN_DARK_MODE and friends override the file.",
	}
	s.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				v := rt.Settings.Snapshot()
				if viper.GetBool("json") {
					return printJSON(v)
				}
				tw := newTable("Setting", "Value")
				tw.AppendRow(row("dark_mode", v.DarkMode))
				tw.AppendRow(row("email_consent", v.EmailConsent))
				tw.AppendRow(row("default_sort", v.DefaultSort))
				tw.AppendRow(row("user", v.UserEmail))
				tw.Render()
				return nil
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting (dark_mode, email_consent, default_sort)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				return rt.Settings.Set(args[0], args[1])
			})
		},
	})
	return s
}
