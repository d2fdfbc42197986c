package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leadflow/internal/domain"
	"leadflow/internal/engine"
	"leadflow/internal/gateway"
	"leadflow/internal/realtime"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Hub serves GET <base>/realtime when set. The caller runs it.
	Hub *realtime.Hub
	// Registry receives the HTTP metrics and backs GET /metrics when set.
	Registry *prometheus.Registry
	Logger   *charmLog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"approve not allowed for role \"engineer\" in state pending"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Leadflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = charmLog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 validation_failed
			status = http.StatusBadRequest
			return newAPIError(status, gateway.CodeValidation, msg, errorDetails(errs))
		}
		return newAPIError(status, "", msg, errorDetails(errs))
	}

	router := chi.NewRouter()
	if cfg.Registry != nil {
		router.Use(newMetricsMiddleware(cfg.Registry, cfg.Hub))
	}
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Leadflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerLeads(group, cfg.Engine)
	registerQuotes(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	if cfg.Hub != nil {
		router.Get(path.Join(basePath, "realtime"), cfg.Hub.Handler(realtimeAuthenticator(cfg.Engine)))
	}
	if cfg.Registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return map[string]any{"errors": msgs}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps typed engine errors onto the envelope. Codes match
// gateway.Code so SDK results carry the same code as in-process ones.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	code := gateway.Code(err)
	var perr *domain.PermissionError
	var verr *domain.ValidationError
	switch code {
	case gateway.CodeValidation:
		var details map[string]any
		if errors.As(err, &verr) && verr.Field != "" {
			details = map[string]any{"field": verr.Field}
		}
		return newAPIError(http.StatusBadRequest, code, err.Error(), details)
	case gateway.CodeForbidden:
		var details map[string]any
		if errors.As(err, &perr) {
			details = map[string]any{"permission": perr.Permission}
		}
		return newAPIError(http.StatusForbidden, code, err.Error(), details)
	case gateway.CodeInvalidTransition:
		var details map[string]any
		if errors.As(err, &perr) {
			details = map[string]any{"state": perr.State, "role": string(perr.Role)}
		}
		return newAPIError(http.StatusConflict, code, err.Error(), details)
	case gateway.CodeNotFound:
		return newAPIError(http.StatusNotFound, code, err.Error(), nil)
	case gateway.CodeUnavailable:
		return newAPIError(http.StatusServiceUnavailable, code, err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, gateway.CodeInternal, "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return gateway.CodeNotFound
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return gateway.CodeValidation
	case http.StatusForbidden:
		return gateway.CodeForbidden
	case http.StatusInternalServerError:
		return gateway.CodeInternal
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Leadflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type leadBody struct {
	Body LeadResponse `json:"body"`
}

type leadPath struct {
	ID string `path:"id"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func leadResult(l domain.Lead, err error) (*leadBody, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &leadBody{Body: leadResponse(l)}, nil
}

func registerLeads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-lead",
		Method:        http.MethodPost,
		Path:          "/leads",
		Summary:       "Create lead (intake)",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.LeadIntake `json:"body"`
	}) (*leadBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return leadResult(e.CreateLead(ctx, who, input.Body))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/leads",
		Summary:     "List leads visible to the caller",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"Nieuw,Triage,Calculatie,Offerte Verzonden,Opdracht,Archief"`
	}) (*struct {
		Body []LeadResponse `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		leads, err := e.ListLeads(ctx, who, leadFilters(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []LeadResponse `json:"body"`
		}{Body: mapLeads(leads)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lead-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Live leads per status",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatsResponse `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		perms, err := e.WhoAmI(ctx, who)
		if err != nil {
			return nil, handleError(err)
		}
		if err := perms.Require("lead_stats", domain.PermLeadReadAll); err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatsResponse `json:"body"`
		}{Body: StatsResponse{Leads: counts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lead",
		Method:      http.MethodGet,
		Path:        "/leads/{id}",
		Summary:     "Get lead",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*leadBody, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return leadResult(e.GetLead(ctx, who, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-lead",
		Method:      http.MethodDelete,
		Path:        "/leads/{id}",
		Summary:     "Soft-delete lead",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *leadPath) (*leadBody, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return leadResult(e.DeleteLead(ctx, who, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-lead-status",
		Method:      http.MethodPatch,
		Path:        "/leads/{id}/status",
		Summary:     "Change pipeline status",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateStatusRequest `json:"body"`
	}) (*leadBody, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status, err := domain.ParseStatus(input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return leadResult(e.UpdateStatus(ctx, who, input.ID, status))
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-lead",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/assign",
		Summary:     "Assign a slot",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*leadBody, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		slot, err := domain.ParseSlot(input.Body.Slot)
		if err != nil {
			return nil, handleError(err)
		}
		return leadResult(e.Assign(ctx, who, input.ID, slot, input.Body.Name))
	})
}

func registerQuotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-quote",
		Method:      http.MethodPut,
		Path:        "/leads/{id}/quote",
		Summary:     "Save quote draft",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body QuoteRequest `json:"body"`
	}) (*leadBody, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sub, err := input.Body.submission()
		if err != nil {
			return nil, handleError(err)
		}
		return leadResult(e.SaveQuoteDraft(ctx, who, input.ID, sub))
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-quote",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/quote/submit",
		Summary:     "Submit or resubmit quote for approval",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body QuoteRequest `json:"body"`
	}) (*leadBody, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sub, err := input.Body.submission()
		if err != nil {
			return nil, handleError(err)
		}
		return leadResult(e.SubmitQuote(ctx, who, input.ID, sub))
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-quote",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/quote/approve",
		Summary:     "Approve pending quote",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ApproveRequest `json:"body"`
	}) (*leadBody, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := input.Body.input()
		if err != nil {
			return nil, handleError(err)
		}
		return leadResult(e.ApproveQuote(ctx, who, input.ID, in))
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-quote",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/quote/reject",
		Summary:     "Reject pending quote with feedback",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body RejectRequest `json:"body"`
	}) (*leadBody, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return leadResult(e.RejectQuote(ctx, who, input.ID, workflowReject(input.Body)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-quote",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/quote/send",
		Summary:     "Mark approved quote as sent",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *leadPath) (*leadBody, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return leadResult(e.SendQuote(ctx, who, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-order",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/order/confirm",
		Summary:     "Record client acceptance",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *leadPath) (*leadBody, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return leadResult(e.ConfirmOrder(ctx, who, input.ID))
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"lead,actor,rbac"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.Events(ctx, who, eventFilters(input.Type, input.EntityKind, input.EntityID, before, limit+1))
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	change := func(id, summary string, grant bool) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        "/rbac/" + strings.TrimSuffix(id, "-role"),
			Summary:     summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *struct {
			Body RoleChangeRequest `json:"body"`
		}) (*struct{}, error) {
			who, authErr := identityFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			role, err := domain.ParseRole(input.Body.Role)
			if err != nil {
				return nil, handleError(err)
			}
			if grant {
				err = e.GrantRole(ctx, who, input.Body.ActorID, role)
			} else {
				err = e.RevokeRole(ctx, who, input.Body.ActorID, role)
			}
			if err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		})
	}
	change("grant-role", "Grant role", true)
	change("revoke-role", "Revoke role", false)
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current identity and resolved permissions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		perms, err := e.WhoAmI(ctx, who)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{
			ActorID:      who.ID,
			Name:         who.Name,
			Role:         string(who.Role),
			EngineerType: string(who.EngineerType),
			Tier:         string(perms.Tier),
			Permissions:  nonNilSlice(perms.Perms),
		}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		name := strings.TrimSpace(input.Body.Name)
		if actor == "" || name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and name are required", nil)
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		who := domain.Identity{ID: actor, Name: name, Role: role, EngineerType: domain.EngineerType(input.Body.EngineerType)}
		if err := e.RegisterActor(ctx, who); err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, who, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, gateway.CodeInternal, err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

// realtimeAuthenticator reads the principal set by the auth middleware and
// resolves whether it bypasses the visibility filter.
func realtimeAuthenticator(e engine.Engine) realtime.Authenticator {
	return func(r *http.Request) (domain.Identity, bool, error) {
		p, ok := principalFromContext(r.Context())
		if !ok {
			return domain.Identity{}, false, fmt.Errorf("authentication required")
		}
		perms, err := e.WhoAmI(r.Context(), p.Identity)
		if err != nil {
			return domain.Identity{}, false, err
		}
		return p.Identity, perms.Has(domain.PermLeadReadAll), nil
	}
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
