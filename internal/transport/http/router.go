// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/adiadia/promptflow/internal/domain"
	"github.com/adiadia/promptflow/internal/entitlement"
	"github.com/adiadia/promptflow/internal/metrics"
	"github.com/adiadia/promptflow/internal/prefill"
	"github.com/adiadia/promptflow/internal/runtime"
	"github.com/adiadia/promptflow/internal/transport/middleware"
	"github.com/adiadia/promptflow/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var errEmptyBody = errors.New("request body is empty")

type startRunRequest struct {
	Workflow string `json:"workflow"`
}

type setFieldsRequest struct {
	Values map[string]string `json:"values"`
}

type setInputRequest struct {
	Text string `json:"text"`
}

type toggleItemRequest struct {
	Checked bool `json:"checked"`
}

type workflowSummary struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	StepCount   int    `json:"step_count"`
}

type Deps struct {
	Runtime         RunService
	Catalog         WorkflowCatalog
	Aliases         AliasAdder
	SessionResolver middleware.SessionResolver
	RateLimits      middleware.RateLimits
	HealthChecker   HealthChecker
	Cookies         CookieConfig
	Logger          *slog.Logger
	AdminToken      string
	Version         string
	Commit          string
	BuildDate       string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.Check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- ALIASES (ADMIN) ----------------

	if deps.Aliases != nil {
		r.Route("/admin/aliases", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Post("/", func(w http.ResponseWriter, r *http.Request) {
				alias, err := decodeJSON[prefill.Alias](r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				if err := deps.Aliases.Add(r.Context(), alias); err != nil {
					writeError(w, logger, err, "add alias failed")
					return
				}

				logger.Info("alias registered", "scope", alias.Scope, "alias", alias.Alias, "key", alias.Key)
				writeJSON(w, http.StatusCreated, alias)
			})
		})
	}

	// ---------------- WORKFLOWS + RUNS (SESSION OR ANONYMOUS) ----------------

	r.Group(func(r chi.Router) {
		if deps.SessionResolver != nil {
			r.Use(middleware.SessionAuth(deps.SessionResolver, deps.RateLimits, logger))
		}
		r.Use(identityMiddleware(deps.Cookies))

		r.Get("/workflows", func(w http.ResponseWriter, r *http.Request) {
			all := deps.Catalog.List()
			out := make([]workflowSummary, 0, len(all))
			for _, wf := range all {
				out = append(out, workflowSummary{
					Slug:        wf.Slug,
					Title:       wf.Title,
					Description: wf.Description,
					Category:    wf.Category,
					StepCount:   len(wf.Steps),
				})
			}
			writeJSON(w, http.StatusOK, map[string]any{"workflows": out})
		})

		r.Get("/workflows/{slug}", func(w http.ResponseWriter, r *http.Request) {
			wf, ok := deps.Catalog.Get(chi.URLParam(r, "slug"))
			if !ok {
				http.Error(w, "workflow not found", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, wf)
		})

		// ---------------- ENTITLEMENT ----------------

		r.Get("/entitlement", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromContext(r.Context())
			if !ok {
				http.Error(w, "missing identity", http.StatusInternalServerError)
				return
			}
			if slug := strings.TrimSpace(r.URL.Query().Get("workflow")); slug != "" {
				if _, ok := deps.Catalog.Get(slug); !ok {
					http.Error(w, "workflow not found", http.StatusNotFound)
					return
				}
			}
			writeJSON(w, http.StatusOK, deps.Runtime.Entitlement(r.Context(), actor))
		})

		r.Post("/entitlement/continue", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromContext(r.Context())
			if !ok {
				http.Error(w, "missing identity", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, deps.Runtime.ContinueAnyway(r.Context(), actor))
		})

		// ---------------- RUNS ----------------

		r.Post("/runs", func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromContext(r.Context())
			if !ok {
				http.Error(w, "missing identity", http.StatusInternalServerError)
				return
			}

			req, err := decodeJSON[startRunRequest](r)
			if err != nil || strings.TrimSpace(req.Workflow) == "" {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			snap, ent, err := deps.Runtime.Start(r.Context(), actor, strings.TrimSpace(req.Workflow))
			if err != nil {
				if errors.Is(err, runtime.ErrEntitlementBlocked) {
					writeJSON(w, blockedStatus(ent), map[string]any{
						"error":       "run blocked",
						"entitlement": ent,
					})
					return
				}
				writeError(w, logger, err, "start run failed")
				return
			}

			writeJSON(w, http.StatusCreated, struct {
				Run         runtime.Snapshot   `json:"run"`
				Entitlement entitlement.Result `json:"entitlement"`
			}{Run: snap, Entitlement: ent})
		})

		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", runHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID) (any, error) {
				return deps.Runtime.Snapshot(actor, id)
			}))

			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				actor, id, ok := runRequest(w, r)
				if !ok {
					return
				}
				if err := deps.Runtime.Abandon(actor, id); err != nil {
					writeError(w, logger, err, "abandon run failed")
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			r.Post("/advance", runHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID) (any, error) {
				return deps.Runtime.Advance(actor, id)
			}))

			r.Post("/back", runHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID) (any, error) {
				return deps.Runtime.Back(actor, id)
			}))

			r.Post("/complete", runHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID) (any, error) {
				return deps.Runtime.Complete(r.Context(), actor, id)
			}))

			r.Route("/steps/{step}", func(r chi.Router) {
				r.Put("/fields", stepHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID, step int) (any, error) {
					req, err := decodeJSON[setFieldsRequest](r)
					if err != nil {
						return nil, errBadRequest
					}
					return deps.Runtime.SetFields(actor, id, step, req.Values)
				}))

				r.Put("/input", stepHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID, step int) (any, error) {
					req, err := decodeJSON[setInputRequest](r)
					if err != nil {
						return nil, errBadRequest
					}
					return deps.Runtime.SetInput(actor, id, step, req.Text)
				}))

				r.Post("/acknowledge", stepHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID, step int) (any, error) {
					return deps.Runtime.Acknowledge(actor, id, step)
				}))

				r.Post("/items/{item}", stepHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID, step int) (any, error) {
					item, err := strconv.Atoi(chi.URLParam(r, "item"))
					if err != nil || item < 0 {
						return nil, errBadRequest
					}
					req, err := decodeJSON[toggleItemRequest](r)
					switch {
					case errors.Is(err, errEmptyBody):
						req.Checked = true
					case err != nil:
						return nil, errBadRequest
					}
					return deps.Runtime.ToggleItem(actor, id, step, item, req.Checked)
				}))

				r.Post("/prefill", stepHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID, step int) (any, error) {
					sel, err := decodeJSON[prefill.Selection](r)
					switch {
					case errors.Is(err, errEmptyBody):
						sel.Scope = prefill.ScopeSelf
					case err != nil:
						return nil, errBadRequest
					}
					return deps.Runtime.Prefill(r.Context(), actor, id, step, sel)
				}))

				r.Get("/render", stepHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID, step int) (any, error) {
					text, err := deps.Runtime.Render(actor, id, step)
					if err != nil {
						return nil, err
					}
					return map[string]any{"step": step, "text": text}, nil
				}))
			})
		})
	})

	return r
}

var errBadRequest = errors.New("bad request")

type runFunc func(r *http.Request, actor runtime.Actor, id uuid.UUID) (any, error)

type stepFunc func(r *http.Request, actor runtime.Actor, id uuid.UUID, step int) (any, error)

func runHandler(logger *slog.Logger, fn runFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := runRequest(w, r)
		if !ok {
			return
		}
		out, err := fn(r, actor, id)
		if err != nil {
			writeError(w, logger, err, "run request failed", "run_id", id)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func stepHandler(logger *slog.Logger, fn stepFunc) http.HandlerFunc {
	return runHandler(logger, func(r *http.Request, actor runtime.Actor, id uuid.UUID) (any, error) {
		step, err := strconv.Atoi(chi.URLParam(r, "step"))
		if err != nil || step < 1 {
			return nil, errBadRequest
		}
		return fn(r, actor, id, step)
	})
}

func runRequest(w http.ResponseWriter, r *http.Request) (runtime.Actor, uuid.UUID, bool) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusInternalServerError)
		return runtime.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid run ID", http.StatusBadRequest)
		return runtime.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

// blockedStatus is 402 when paying would lift the block and 403 when
// signing up would.
func blockedStatus(res entitlement.Result) int {
	if res.Reason == entitlement.ReasonUpgradeToPro {
		return http.StatusPaymentRequired
	}
	return http.StatusForbidden
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error, msg string, attrs ...any) {
	switch {
	case errors.Is(err, errBadRequest):
		http.Error(w, "invalid request", http.StatusBadRequest)
	case errors.Is(err, runtime.ErrRunNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrWorkflowNotFound):
		http.Error(w, "workflow not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrPresetNotFound):
		http.Error(w, "preset not found", http.StatusNotFound)
	case errors.Is(err, workflow.ErrStepUnsatisfied),
		errors.Is(err, workflow.ErrAtFirstStep),
		errors.Is(err, workflow.ErrRunComplete),
		errors.Is(err, runtime.ErrRunIncomplete),
		errors.Is(err, prefill.ErrAliasConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, workflow.ErrUnknownStep),
		errors.Is(err, workflow.ErrUnknownField),
		errors.Is(err, workflow.ErrUnknownItem),
		errors.Is(err, workflow.ErrWrongStepType),
		errors.Is(err, domain.ErrInvalidAlias),
		errors.Is(err, prefill.ErrInvalidSelection):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error(msg, append(attrs, "error", err)...)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON[T any](r *http.Request) (T, error) {
	var req T
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return req, errEmptyBody
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errEmptyBody
		}
		return req, err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return req, errors.New("request body must contain exactly one JSON object")
	}

	return req, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
