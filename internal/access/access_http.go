package access

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kavelund/accessgate/internal/database"
	"github.com/kavelund/accessgate/internal/httphelper"
	"github.com/kavelund/accessgate/pkg/log"
)

type accessHandler struct {
	rules    *Rules
	sources  *Sources
	audit    AuditStore
	pipeline *Pipeline
}

// NewHandler registers the rule management, audit query and decision endpoints.
func NewHandler(engine *gin.Engine, rules *Rules, sources *Sources, audit AuditStore, pipeline *Pipeline) {
	handler := accessHandler{rules: rules, sources: sources, audit: audit, pipeline: pipeline}

	grp := engine.Group("/api/access")
	{
		grp.GET("/blacklist", handler.onListBlacklist())
		grp.POST("/blacklist", handler.onCreateBlacklist())
		grp.DELETE("/blacklist/:blacklist_id", handler.onDeactivate(RuleBlacklist, "blacklist_id"))

		grp.GET("/whitelist", handler.onListWhitelist())
		grp.POST("/whitelist", handler.onCreateWhitelist())
		grp.DELETE("/whitelist/:whitelist_id", handler.onDeactivate(RuleWhitelist, "whitelist_id"))

		grp.GET("/sources", handler.onListSources())
		grp.POST("/sources", handler.onCreateSource())
		grp.POST("/sources/:source_id", handler.onUpdateSource())
		grp.DELETE("/sources/:source_id", handler.onDeleteSource())

		grp.GET("/logs", handler.onAccessLogs())
		grp.POST("/check", handler.onCheck())

		// forward-auth integration point for nginx auth_request / traefik forwardAuth
		grp.GET("/authorize", handler.onAuthorize())
	}
}

func (h *accessHandler) onListBlacklist() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var query RuleQuery
		if !httphelper.BindQuery(ctx, &query) {
			return
		}

		entries, errEntries := h.rules.Blacklists(ctx, query)
		if errEntries != nil {
			httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusInternalServerError, httphelper.ErrInternal))
			slog.Error("Failed to list blacklist entries", log.ErrAttr(errEntries))

			return
		}

		ctx.JSON(http.StatusOK, entries)
	}
}

func (h *accessHandler) onCreateBlacklist() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		opts, bound := httphelper.BindJSON[BlacklistOpts](ctx)
		if !bound {
			return
		}

		entry, errAdd := h.rules.AddBlacklist(ctx, opts)
		if errAdd != nil {
			switch {
			case errors.Is(errAdd, ErrAlreadyExists):
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusConflict, errAdd))
			case errors.Is(errAdd, ErrInvalidAddress), errors.Is(errAdd, ErrRuleTarget):
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusBadRequest, errAdd))
			default:
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusInternalServerError, httphelper.ErrInternal))
				slog.Error("Failed to create blacklist entry", log.ErrAttr(errAdd))
			}

			return
		}

		ctx.JSON(http.StatusCreated, entry)
	}
}

func (h *accessHandler) onListWhitelist() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var query RuleQuery
		if !httphelper.BindQuery(ctx, &query) {
			return
		}

		entries, errEntries := h.rules.Whitelists(ctx, query)
		if errEntries != nil {
			httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusInternalServerError, httphelper.ErrInternal))
			slog.Error("Failed to list whitelist entries", log.ErrAttr(errEntries))

			return
		}

		ctx.JSON(http.StatusOK, entries)
	}
}

func (h *accessHandler) onCreateWhitelist() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		opts, bound := httphelper.BindJSON[WhitelistOpts](ctx)
		if !bound {
			return
		}

		entry, errAdd := h.rules.AddWhitelist(ctx, opts)
		if errAdd != nil {
			switch {
			case errors.Is(errAdd, ErrInvalidAddress), errors.Is(errAdd, ErrPriority):
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusBadRequest, errAdd))
			default:
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusInternalServerError, httphelper.ErrInternal))
				slog.Error("Failed to create whitelist entry", log.ErrAttr(errAdd))
			}

			return
		}

		ctx.JSON(http.StatusCreated, entry)
	}
}

func (h *accessHandler) onDeactivate(kind RuleKind, param string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ruleID, found := httphelper.GetInt64Param(ctx, param)
		if !found {
			return
		}

		affected, errDrop := h.rules.Deactivate(ctx, kind, ruleID)
		if errDrop != nil {
			httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusInternalServerError, httphelper.ErrInternal))
			slog.Error("Failed to deactivate rule", log.ErrAttr(errDrop))

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"affected": affected})
	}
}

type sourceRequest struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

func (h *accessHandler) onListSources() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sources, errSources := h.sources.List(ctx)
		if errSources != nil {
			httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusInternalServerError, httphelper.ErrInternal))
			slog.Error("Failed to list blacklist sources", log.ErrAttr(errSources))

			return
		}

		ctx.JSON(http.StatusOK, sources)
	}
}

func (h *accessHandler) onCreateSource() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		req, bound := httphelper.BindJSON[sourceRequest](ctx)
		if !bound {
			return
		}

		source, errCreate := h.sources.Create(ctx, req.Name, req.URL, req.Enabled)
		if errCreate != nil {
			if errors.Is(errCreate, ErrSourceName) || errors.Is(errCreate, ErrSourceURL) {
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusBadRequest, errCreate))
			} else {
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusInternalServerError, httphelper.ErrInternal))
				slog.Error("Failed to create blacklist source", log.ErrAttr(errCreate))
			}

			return
		}

		ctx.JSON(http.StatusCreated, source)
	}
}

func (h *accessHandler) onUpdateSource() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sourceID, found := httphelper.GetInt64Param(ctx, "source_id")
		if !found {
			return
		}

		req, bound := httphelper.BindJSON[sourceRequest](ctx)
		if !bound {
			return
		}

		source, errUpdate := h.sources.Update(ctx, sourceID, req.Name, req.URL, req.Enabled)
		if errUpdate != nil {
			switch {
			case errors.Is(errUpdate, database.ErrNoResult):
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusNotFound, httphelper.ErrNotFound))
			case errors.Is(errUpdate, ErrSourceName), errors.Is(errUpdate, ErrSourceURL):
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusBadRequest, errUpdate))
			default:
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusInternalServerError, httphelper.ErrInternal))
				slog.Error("Failed to update blacklist source", log.ErrAttr(errUpdate))
			}

			return
		}

		ctx.JSON(http.StatusOK, source)
	}
}

func (h *accessHandler) onDeleteSource() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		sourceID, found := httphelper.GetInt64Param(ctx, "source_id")
		if !found {
			return
		}

		if errDelete := h.sources.Delete(ctx, sourceID); errDelete != nil {
			httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusInternalServerError, httphelper.ErrInternal))
			slog.Error("Failed to delete blacklist source", log.ErrAttr(errDelete))

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"source_id": sourceID})
	}
}

func (h *accessHandler) onAccessLogs() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var query LogQuery
		if !httphelper.BindQuery(ctx, &query) {
			return
		}

		entries, errEntries := h.audit.AccessLogs(ctx, query)
		if errEntries != nil {
			httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusInternalServerError, httphelper.ErrInternal))
			slog.Error("Failed to query access logs", log.ErrAttr(errEntries))

			return
		}

		ctx.JSON(http.StatusOK, entries)
	}
}

type checkRequest struct {
	Request
	WhitelistProtected bool   `json:"whitelist_protected"`
	RateClass          string `json:"rate_class"`
}

// onCheck evaluates a request descriptor without enforcing anything, for operator
// tooling and integration tests.
func (h *accessHandler) onCheck() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		req, bound := httphelper.BindJSON[checkRequest](ctx)
		if !bound {
			return
		}

		decision := h.pipeline.Evaluate(ctx, req.Request, EvalOpts{
			WhitelistProtected: req.WhitelistProtected,
			RateClass:          req.RateClass,
		})

		ctx.JSON(http.StatusOK, decision)
	}
}

// forwardedAddr returns the first hop of a comma separated X-Forwarded-For chain,
// which is the original client address.
func forwardedAddr(header string) string {
	first, _, _ := strings.Cut(header, ",")

	return strings.TrimSpace(first)
}

// onAuthorize is the forward-auth endpoint: the fronting proxy passes the original
// request in X-Forwarded-* headers and enforces our status code.
func (h *accessHandler) onAuthorize() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		request := Request{
			Address:   forwardedAddr(ctx.GetHeader("X-Forwarded-For")),
			Endpoint:  ctx.GetHeader("X-Forwarded-Uri"),
			Method:    ctx.GetHeader("X-Forwarded-Method"),
			ClientID:  ctx.GetHeader("X-Client-Id"),
			UserAgent: ctx.GetHeader("User-Agent"),
		}

		if request.Address == "" {
			request.Address = ctx.ClientIP()
		}

		decision := h.pipeline.Evaluate(ctx, request, EvalOpts{
			WhitelistProtected: true,
			RateClass:          ctx.GetHeader("X-Endpoint-Class"),
		})

		if decision.Permit {
			ctx.Status(http.StatusOK)

			return
		}

		status := http.StatusForbidden
		if decision.Result == BlockedRateLimited {
			status = http.StatusTooManyRequests
		}

		ctx.JSON(status, decision)
	}
}
