// Package server exposes the request lifecycle over HTTP for the intake
// surfaces (bots, forms) and operator tooling.
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
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"reqline/internal/engine"
	"reqline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_claimed"`
	Message string         `json:"message" example:"request already taken by Dana"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"claimant\":\"Dana\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Reqline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Reqline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerLifecycle(group, cfg.Engine)
	registerHandoff(group, cfg.Engine)
	registerMyWork(group, cfg.Engine)
	registerSpecialists(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
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

// handleError maps the engine's typed errors onto the HTTP envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var uce engine.UnknownCategoryError
	if errors.As(err, &uce) {
		return newAPIError(http.StatusUnprocessableEntity, "unknown_category", err.Error(), map[string]any{"category": uce.Category})
	}
	var nfe engine.NotFoundError
	if errors.As(err, &nfe) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var pde engine.PermissionDeniedError
	if errors.As(err, &pde) {
		return newAPIError(http.StatusForbidden, "forbidden_category", err.Error(), map[string]any{"category": pde.Category})
	}
	var ace engine.AlreadyClaimedError
	if errors.As(err, &ace) {
		return newAPIError(http.StatusConflict, "already_claimed", err.Error(), map[string]any{"claimant": ace.ClaimantName})
	}
	var nce engine.NotClaimantError
	if errors.As(err, &nce) {
		return newAPIError(http.StatusConflict, "not_claimant", err.Error(), map[string]any{"claimant": nce.ClaimantName})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Reqline API Docs</title>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Request counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		counts, err := e.Repo.CountRequestsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"service":        e.Config.Service.Name,
			"request_counts": counts,
		}}, nil
	})
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Submit request",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		rq, err := e.Submit(ctx, engine.SubmitOptions{
			Name:        input.Body.Name,
			Phone:       input.Body.Phone,
			City:        input.Body.City,
			Description: input.Body.Description,
			Category:    input.Body.Category,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(rq)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Category string `query:"category"`
		Claimant string `query:"claimant"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body []RequestResponse `json:"body"`
	}, error) {
		f := repo.RequestFilters{
			Status:     input.Status,
			Category:   input.Category,
			ClaimantID: input.Claimant,
			Limit:      input.Limit,
		}
		if f.Limit == 0 {
			f.Limit = 100
		}
		if input.Cursor != "" {
			createdAt, id, ok := strings.Cut(input.Cursor, "|")
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			f.CursorCreatedAt, f.CursorID = createdAt, id
		}
		items, err := e.Repo.ListRequests(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RequestResponse `json:"body"`
		}{Body: mapRequests(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{ref}",
		Summary:     "Get request by public ref or id",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		rq, err := e.Repo.GetByPublicRef(ctx, input.Ref)
		if errors.Is(err, repo.ErrNotFound) {
			rq, err = e.Repo.GetRequest(ctx, input.Ref)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(rq)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request-cancellations",
		Method:      http.MethodGet,
		Path:        "/requests/{ref}/cancellations",
		Summary:     "Cancellation history of a request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct {
		Body []CancellationResponse `json:"body"`
	}, error) {
		rq, err := e.Repo.GetByPublicRef(ctx, input.Ref)
		if errors.Is(err, repo.ErrNotFound) {
			rq, err = e.Repo.GetRequest(ctx, input.Ref)
		}
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCancellations(ctx, rq.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]CancellationResponse, 0, len(items))
		for _, c := range items {
			out = append(out, cancellationResponse(c))
		}
		return &struct {
			Body []CancellationResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recategorize-request",
		Method:      http.MethodPatch,
		Path:        "/requests/{ref}/category",
		Summary:     "Move a request to another category",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Ref  string              `path:"ref"`
		Body RecategorizeRequest `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		rq, err := e.Recategorize(ctx, input.Ref, input.Body.Category)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(rq)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-request",
		Method:      http.MethodDelete,
		Path:        "/requests/{ref}",
		Summary:     "Delete request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct{}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Delete(ctx, input.Ref, identity); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-request",
		Method:      http.MethodPost,
		Path:        "/requests/{ref}/claim",
		Summary:     "Claim a pending request",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rq, tok, err := e.Claim(ctx, input.Ref, identity)
		var blocked engine.DeliveryBlockedError
		if errors.As(err, &blocked) {
			// The claim committed; report it with the token so the
			// caller can route the handoff another way.
			return &struct {
				Body ClaimResponse `json:"body"`
			}{Body: ClaimResponse{
				Request:         requestResponse(rq),
				HandoffToken:    blocked.Token,
				DeliveryBlocked: true,
			}}, nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: ClaimResponse{Request: requestResponse(rq), HandoffToken: tok}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-request-done",
		Method:      http.MethodPost,
		Path:        "/requests/{ref}/done",
		Summary:     "Resolve a claimed request as done",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rq, err := e.ResolveDone(ctx, input.Ref, identity)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(rq)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-request",
		Method:      http.MethodPost,
		Path:        "/requests/{ref}/cancel",
		Summary:     "Cancel a claim and reopen the request",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Ref  string        `path:"ref"`
		Body CancelRequest `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rq, err := e.ResolveCancel(ctx, input.Ref, identity, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(rq)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "redeliver-handoff",
		Method:      http.MethodPost,
		Path:        "/requests/{ref}/handoff",
		Summary:     "Re-deliver the private handoff for a claimed request",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tok, err := e.RedeliverHandoff(ctx, input.Ref, identity)
		var blocked engine.DeliveryBlockedError
		if errors.As(err, &blocked) {
			return &struct {
				Body ClaimResponse `json:"body"`
			}{Body: ClaimResponse{HandoffToken: blocked.Token, DeliveryBlocked: true}}, nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: ClaimResponse{HandoffToken: tok}}, nil
	})
}

func registerHandoff(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "verify-handoff",
		Method:      http.MethodPost,
		Path:        "/handoff/verify",
		Summary:     "Resolve a handoff token to its request",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body VerifyHandoffRequest `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		if input.Body.Token == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "token is required", nil)
		}
		rq, err := e.LookupToken(ctx, input.Body.Token)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(rq)}, nil
	})
}

func registerMyWork(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "my-requests",
		Method:      http.MethodGet,
		Path:        "/my/requests",
		Summary:     "Requests currently claimed by the caller",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []RequestResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListByClaimant(ctx, identity.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RequestResponse `json:"body"`
		}{Body: mapRequests(items)}, nil
	})
}

func registerSpecialists(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-specialist",
		Method:      http.MethodPost,
		Path:        "/specialists",
		Summary:     "Register or update a specialist",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body UpsertSpecialistRequest `json:"body"`
	}) (*struct {
		Body SpecialistResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		sp, err := e.RegisterSpecialist(ctx, input.Body.ID, input.Body.DisplayName, input.Body.Categories)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SpecialistResponse `json:"body"`
		}{Body: specialistResponse(sp)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-specialists",
		Method:      http.MethodGet,
		Path:        "/specialists",
		Summary:     "List specialists",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SpecialistResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSpecialists(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SpecialistResponse `json:"body"`
		}{Body: mapSpecialists(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-specialist",
		Method:      http.MethodGet,
		Path:        "/specialists/{id}",
		Summary:     "Get specialist",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SpecialistResponse `json:"body"`
	}, error) {
		sp, err := e.Repo.GetSpecialist(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SpecialistResponse `json:"body"`
		}{Body: specialistResponse(sp)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-specialist-categories",
		Method:      http.MethodPut,
		Path:        "/specialists/{id}/categories",
		Summary:     "Replace a specialist's category grants",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                         `path:"id"`
		Body SetSpecialistCategoriesRequest `json:"body"`
	}) (*struct {
		Body SpecialistResponse `json:"body"`
	}, error) {
		sp, err := e.GrantCategories(ctx, input.ID, input.Body.Categories)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SpecialistResponse `json:"body"`
		}{Body: specialistResponse(sp)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-specialist-active",
		Method:      http.MethodPatch,
		Path:        "/specialists/{id}",
		Summary:     "Activate or deactivate a specialist",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                     `path:"id"`
		Body SetSpecialistActiveRequest `json:"body"`
	}) (*struct {
		Body SpecialistResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := e.Repo.SetSpecialistActive(ctx, input.ID, input.Body.Active); err != nil {
			return nil, handleError(err)
		}
		sp, err := e.Repo.GetSpecialist(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SpecialistResponse `json:"body"`
		}{Body: specialistResponse(sp)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-specialist",
		Method:      http.MethodDelete,
		Path:        "/specialists/{id}",
		Summary:     "Delete specialist",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteSpecialist(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest audit events",
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = 100
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, "", input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}
