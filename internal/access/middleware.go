package access

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kavelund/accessgate/internal/httphelper"
)

// Middleware enforces the access decision for in-process routes. Denied
// requests are aborted with 403, throttled requests with 429. class selects
// the rate limit bucket and protected controls whitelist enforcement.
func Middleware(pipeline *Pipeline, class string, protected bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		headers := make(map[string]string, len(ctx.Request.Header))
		for name := range ctx.Request.Header {
			headers[name] = ctx.GetHeader(name)
		}

		clientID := ctx.Query("client_id")
		if clientID == "" {
			clientID = ctx.GetHeader("X-Client-Id")
		}

		request := Request{
			Address:   ctx.ClientIP(),
			Endpoint:  ctx.Request.URL.Path,
			Method:    ctx.Request.Method,
			ClientID:  clientID,
			UserAgent: ctx.Request.UserAgent(),
			Headers:   headers,
		}

		decision := pipeline.Evaluate(ctx, request, EvalOpts{
			WhitelistProtected: protected,
			RateClass:          class,
		})

		if decision.Permit {
			ctx.Next()

			return
		}

		if decision.Result == BlockedRateLimited {
			httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusTooManyRequests, httphelper.ErrRateLimited))
		} else {
			httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusForbidden, httphelper.ErrPermissionDenied))
		}

		ctx.Abort()
	}
}
