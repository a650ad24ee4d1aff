package httphelper

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
)

func BindJSON[T any](ctx *gin.Context) (T, bool) { //nolint:ireturn
	var value T
	if err := ctx.ShouldBindJSON(&value); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			SetError(ctx, NewAPIError(http.StatusBadRequest, validationErrs))
		} else {
			SetError(ctx, NewAPIError(http.StatusBadRequest, ErrBadRequest))
		}

		return value, false
	}

	return value, true
}

// Decoder is a package global because it caches
// meta-data about structs, and an instance can be shared safely.
var Decoder = schema.NewDecoder() //nolint:gochecknoglobals

func BindQuery(ctx *gin.Context, target any) bool {
	if errBind := Decoder.Decode(target, ctx.Request.URL.Query()); errBind != nil {
		SetError(ctx,
			NewAPIErrorf(http.StatusBadRequest,
				errors.Join(errBind, ErrBadRequest),
				"Could not decode query params"))

		return false
	}

	return true
}

// NewClient allocates a preconfigured *http.Client.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = time.Second * 10
	}

	return &http.Client{Timeout: timeout}
}

func GetInt64Param(ctx *gin.Context, key string) (int64, bool) {
	valueStr := ctx.Param(key)
	if valueStr == "" {
		SetError(ctx, NewAPIErrorf(http.StatusBadRequest, ErrParamKeyMissing,
			"Cannot read value for param: %s", key))

		return 0, false
	}

	value, valueErr := strconv.ParseInt(valueStr, 10, 64)
	if valueErr != nil {
		SetError(ctx, NewAPIErrorf(http.StatusBadRequest, errors.Join(valueErr, ErrParamParse),
			"Must be a valid integer: %s", key))

		return 0, false
	}

	if value <= 0 {
		SetError(ctx, NewAPIErrorf(http.StatusBadRequest, ErrParamInvalid,
			"Integer value cannot be negative: %s", key))

		return 0, false
	}

	return value, true
}

func GetStringParam(ctx *gin.Context, key string) (string, bool) {
	valueStr := ctx.Param(key)
	if valueStr == "" {
		SetError(ctx, NewAPIErrorf(http.StatusBadRequest, ErrParamKeyMissing,
			"Cannot find param: %s", key))

		return "", false
	}

	return valueStr, true
}

func NewServer(listenAddr string, handler http.Handler) *http.Server {
	httpServer := &http.Server{
		Addr:           listenAddr,
		Handler:        handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return httpServer
}
