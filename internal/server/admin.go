package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/govgate/internal/audit"
	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/pipeline"
	"github.com/vyrodovalexey/govgate/internal/ratelimit"
	"github.com/vyrodovalexey/govgate/internal/security"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// AdminAPI serves the runtime administration endpoints. It must be mounted
// behind the admin stage group; it performs no authorization itself.
type AdminAPI struct {
	registry *pipeline.Registry
	policy   *security.Policy
	limiter  *ratelimit.Limiter
	audit    audit.Logger
	logger   observability.Logger
	engine   *gin.Engine
}

// AdminOption configures an AdminAPI.
type AdminOption func(*AdminAPI)

// WithAdminLogger sets the logger.
func WithAdminLogger(logger observability.Logger) AdminOption {
	return func(a *AdminAPI) {
		a.logger = logger
	}
}

// WithAdminAudit records every state-changing admin call.
func WithAdminAudit(l audit.Logger) AdminOption {
	return func(a *AdminAPI) {
		a.audit = l
	}
}

// NewAdminAPI creates the admin API.
func NewAdminAPI(
	registry *pipeline.Registry,
	policy *security.Policy,
	limiter *ratelimit.Limiter,
	opts ...AdminOption,
) *AdminAPI {
	a := &AdminAPI{
		registry: registry,
		policy:   policy,
		limiter:  limiter,
		audit:    audit.NopLogger(),
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.engine = gin.New()
	a.engine.RedirectTrailingSlash = false
	a.routes(a.engine.Group(AdminPathPrefix))
	a.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, util.FailureBody{
			Error:   "Not Found",
			Message: "Unknown admin endpoint.",
		})
	})

	return a
}

func (a *AdminAPI) routes(g *gin.RouterGroup) {
	g.GET("pipeline", a.getPipeline)
	g.GET("headers", a.getHeaders)
	g.GET("ratelimit/classes", a.getClasses)
	g.PUT("ratelimit/classes/:class", a.putClass)
	g.DELETE("ratelimit/clients/:key", a.deleteClient)
	g.DELETE("ratelimit/clients", a.deleteClients)
}

// ServeHTTP implements http.Handler.
func (a *AdminAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.engine.ServeHTTP(w, r)
}

// HeadersView is the response of GET /_govgate/headers.
type HeadersView struct {
	Headers    map[string]string `json:"headers"`
	APIHeaders map[string]string `json:"apiHeaders"`
	Score      int               `json:"score"`
}

// ClassView describes the limit of one request class.
type ClassView struct {
	Class         string `json:"class"`
	Max           int    `json:"max"`
	Window        string `json:"window"`
	WindowSeconds int64  `json:"windowSeconds"`
}

// ClassUpdate is the body of PUT /_govgate/ratelimit/classes/:class.
type ClassUpdate struct {
	Max    int    `json:"max" binding:"required,gt=0"`
	Window string `json:"window" binding:"required"`
}

func classView(class string, limit ratelimit.Limit) ClassView {
	return ClassView{
		Class:         class,
		Max:           limit.Max,
		Window:        limit.Window.String(),
		WindowSeconds: int64(limit.Window / time.Second),
	}
}

func (a *AdminAPI) getPipeline(c *gin.Context) {
	c.JSON(http.StatusOK, a.registry.Snapshot())
}

func (a *AdminAPI) getHeaders(c *gin.Context) {
	c.JSON(http.StatusOK, HeadersView{
		Headers:    a.policy.Headers(),
		APIHeaders: a.policy.APIHeaders(),
		Score:      a.policy.Score(),
	})
}

func (a *AdminAPI) getClasses(c *gin.Context) {
	limits := a.limiter.Limits()
	views := make([]ClassView, 0, len(limits))
	for _, class := range ratelimit.Classes() {
		if limit, ok := limits[class]; ok {
			views = append(views, classView(class, limit))
		}
	}
	c.JSON(http.StatusOK, gin.H{"classes": views})
}

func (a *AdminAPI) putClass(c *gin.Context) {
	class := c.Param("class")

	var body ClassUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	window, err := time.ParseDuration(body.Window)
	if err != nil || window <= 0 {
		badRequest(c, "window must be a positive duration such as 60s")
		return
	}

	if err := a.limiter.SetLimit(class, body.Max, window); err != nil {
		if errors.Is(err, ratelimit.ErrUnknownClass) {
			c.JSON(http.StatusNotFound, util.FailureBody{
				Error:   "Not Found",
				Message: "Unknown rate limit class " + class + ".",
			})
			return
		}
		badRequest(c, err.Error())
		return
	}

	a.record(c, "set rate limit",
		"class", class,
		"max", strconv.Itoa(body.Max),
		"window", window.String(),
	)
	c.JSON(http.StatusOK, classView(class, ratelimit.Limit{Max: body.Max, Window: window}))
}

func (a *AdminAPI) deleteClient(c *gin.Context) {
	key := c.Param("key")
	if err := a.limiter.ClearClient(c.Request.Context(), key); err != nil {
		a.storeFailure(c, err)
		return
	}
	a.record(c, "cleared rate limit client", "client", key)
	c.Status(http.StatusNoContent)
}

func (a *AdminAPI) deleteClients(c *gin.Context) {
	if err := a.limiter.ClearAll(c.Request.Context()); err != nil {
		a.storeFailure(c, err)
		return
	}
	a.record(c, "cleared all rate limit clients")
	c.Status(http.StatusNoContent)
}

// record writes an admin action audit event. details alternate keys and
// values.
func (a *AdminAPI) record(c *gin.Context, message string, details ...string) {
	event := audit.NewRequestEvent(audit.KindAdminAction, c.Request, message)
	for i := 0; i+1 < len(details); i += 2 {
		event.WithDetail(details[i], details[i+1])
	}
	a.audit.Log(c.Request.Context(), event)
}

func (a *AdminAPI) storeFailure(c *gin.Context, err error) {
	a.logger.WithContext(c.Request.Context()).Error("admin operation failed",
		observability.String("path", c.Request.URL.Path),
		observability.Error(err),
	)
	c.JSON(http.StatusInternalServerError, util.FailureBody{
		Error:   "Internal Server Error",
		Message: "The request could not be processed.",
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, util.FailureBody{
		Error:   "Bad Request",
		Message: message,
	})
}
