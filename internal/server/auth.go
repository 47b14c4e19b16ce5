package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"shaman/internal/domain"
	"shaman/internal/identity"
	"shaman/internal/store"
)

// Principal is the signed-in caller of a request.
type Principal struct {
	UserID string
	Email  string
	Token  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func userIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != "" {
		return p.UserID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// publicPaths lists the routes reachable without a session.
func publicPaths(basePath string) map[string]bool {
	out := map[string]bool{}
	for _, p := range []string{
		"health",
		"openapi.json",
		"auth/signup",
		"auth/signin",
		"auth/federated",
		"auth/federated/url",
		"auth/reset",
		"auth/reset/confirm",
	} {
		full := path.Join(basePath, p)
		if !strings.HasPrefix(full, "/") {
			full = "/" + full
		}
		out[full] = true
	}
	return out
}

// newAuthMiddleware requires a valid session on every route under basePath
// except the public ones. Browsers cannot set headers on an EventSource, so
// the token may also arrive as the access_token query parameter.
func newAuthMiddleware(basePath string, p *identity.Provider, logger *log.Logger) func(http.Handler) http.Handler {
	public := publicPaths(basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if public[req.URL.Path] || req.Method == http.MethodOptions {
				next.ServeHTTP(w, req)
				return
			}

			token := req.URL.Query().Get("access_token")
			if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
				var ok bool
				token, ok = bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
			}
			if token == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			claims, err := p.Verify(req.Context(), token)
			if errors.Is(err, store.ErrUnavailable) {
				logger.Printf("auth: verify session for %s %s: %v", req.Method, req.URL.Path, err)
				respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "store_unavailable", "failed to verify session, please try again", nil))
				return
			}
			if err != nil {
				logger.Printf("auth: rejected token for %s %s: %v", req.Method, req.URL.Path, err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			ctx := withPrincipal(req.Context(), Principal{UserID: claims.Subject, Email: claims.Email, Token: token})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func registerAuth(api huma.API, p *identity.Provider) {
	huma.Register(api, huma.Operation{
		OperationID:   "sign-up",
		Method:        http.MethodPost,
		Path:          "/auth/signup",
		Summary:       "Create an account with email and password",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body CredentialsRequest `json:"body"`
	}) (*struct {
		Body identity.Session `json:"body"`
	}, error) {
		s, err := p.SignUp(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError("sign up", err)
		}
		return &struct {
			Body identity.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-in",
		Method:      http.MethodPost,
		Path:        "/auth/signin",
		Summary:     "Sign in with email and password",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body CredentialsRequest `json:"body"`
	}) (*struct {
		Body identity.Session `json:"body"`
	}, error) {
		s, err := p.SignIn(ctx, input.Body.Email, input.Body.Password, input.Body.RememberMe)
		if err != nil {
			return nil, handleError("sign in", err)
		}
		return &struct {
			Body identity.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "federated-url",
		Method:      http.MethodGet,
		Path:        "/auth/federated/url",
		Summary:     "Consent page URL for federated sign-in",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		State string `query:"state"`
	}) (*struct {
		Body FederatedURLResponse `json:"body"`
	}, error) {
		url, err := p.AuthCodeURL(input.State)
		if err != nil {
			return nil, handleError("start sign in", err)
		}
		return &struct {
			Body FederatedURLResponse `json:"body"`
		}{Body: FederatedURLResponse{URL: url}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "federated-sign-in",
		Method:      http.MethodPost,
		Path:        "/auth/federated",
		Summary:     "Complete federated sign-in with an authorization code",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body FederatedRequest `json:"body"`
	}) (*struct {
		Body identity.Session `json:"body"`
	}, error) {
		s, err := p.SignInWithFederatedIdentity(ctx, input.Body.Code, input.Body.RememberMe)
		if err != nil {
			return nil, handleError("sign in", err)
		}
		return &struct {
			Body identity.Session `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reset-password",
		Method:        http.MethodPost,
		Path:          "/auth/reset",
		Summary:       "Send a password reset token",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body ResetRequest `json:"body"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if err := p.ResetPassword(ctx, input.Body.Email); err != nil {
			return nil, mapError("send reset email", err, identity.DescribeReset)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Status: "sent"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-password-reset",
		Method:      http.MethodPost,
		Path:        "/auth/reset/confirm",
		Summary:     "Set a new password with a reset token",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body ConfirmResetRequest `json:"body"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if err := p.ConfirmPasswordReset(ctx, input.Body.Token, input.Body.Password); err != nil {
			return nil, mapError("reset password", err, identity.DescribeReset)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Status: "updated"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "sign-out",
		Method:        http.MethodPost,
		Path:          "/auth/signout",
		Summary:       "Revoke the current session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		if err := p.SignOut(ctx, principal.Token); err != nil {
			return nil, handleError("sign out", err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, p *identity.Provider) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := p.User(ctx, userID)
		if err != nil {
			return nil, handleError("load user", err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-email-consent",
		Method:      http.MethodPut,
		Path:        "/me/email-consent",
		Summary:     "Opt in or out of email updates",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body ConsentRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := p.SetEmailConsent(ctx, userID, input.Body.EmailConsent); err != nil {
			return nil, handleError("save consent", err)
		}
		u, err := p.User(ctx, userID)
		if err != nil {
			return nil, handleError("load user", err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}
