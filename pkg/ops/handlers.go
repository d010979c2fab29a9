package ops

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	agenterrors "github.com/armorclaw/agentcore/pkg/errors"
	"github.com/armorclaw/agentcore/pkg/eventbus"
	"github.com/armorclaw/agentcore/pkg/history"
)

func (s *Server) handleHealth(c *gin.Context) {
	health := s.deps.Monitor.HealthCheck()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (s *Server) handleReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Monitor.GenerateReport())
}

func (s *Server) handleAlerts(c *gin.Context) {
	alerts := s.deps.Monitor.Alerts()
	if c.Query("active") == "true" {
		c.JSON(http.StatusOK, gin.H{"alerts": alerts.ActiveAlerts()})
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts.Alerts(limit)})
}

func (s *Server) handleResolveAlert(c *gin.Context) {
	id := c.Param("id")
	if !s.deps.Monitor.Alerts().ResolveAlert(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "resolved": true})
}

func (s *Server) handleRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.deps.Monitor.Alerts().Rules()})
}

type toggleRuleRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (s *Server) handleToggleRule(c *gin.Context) {
	var req toggleRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"active\": bool}"})
		return
	}

	id := c.Param("id")
	if !s.deps.Monitor.Alerts().ToggleRule(id, *req.Active) {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": *req.Active})
}

func (s *Server) handleBusStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Bus.Stats())
}

func (s *Server) handleFailedEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"failed_events": s.deps.Bus.Router().FailedEvents()})
}

type reportErrorRequest struct {
	Error   *agenterrors.AgentError `json:"error" binding:"required"`
	Context map[string]any          `json:"context"`
}

// handleReportError is the HTTP ingress for agents that report errors
// without linking the library
func (s *Server) handleReportError(c *gin.Context) {
	var req reportErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Error == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must contain an error object"})
		return
	}
	if req.Error.Kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "error.kind is required"})
		return
	}
	if !req.Error.Severity.Valid() {
		req.Error.Severity = agenterrors.Lookup(req.Error.Kind).DefaultSeverity
	}

	id, err := s.deps.Monitor.Report(c.Request.Context(), req.Error, req.Context)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) handleResolveError(c *gin.Context) {
	id := c.Param("id")
	if !s.deps.Monitor.MarkResolved(c.Request.Context(), id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "resolved": true})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	if s.deps.Analyzer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "root cause analysis is disabled"})
		return
	}

	report, err := s.lookupReport(c)
	if err != nil {
		s.writeError(c, err)
		return
	}

	analysis, err := s.deps.Analyzer.Analyze(c.Request.Context(), report)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (s *Server) handleGetAnalysis(c *gin.Context) {
	if s.deps.Analyzer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "root cause analysis is disabled"})
		return
	}
	analysis, ok := s.deps.Analyzer.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// lookupReport checks the in-memory collector first, then history
func (s *Server) lookupReport(c *gin.Context) (*agenterrors.Report, error) {
	id := c.Param("id")
	if r, ok := s.deps.Monitor.Collector().Get(id); ok {
		return &r, nil
	}
	if s.deps.Reports != nil {
		return s.deps.Reports.Get(c.Request.Context(), id)
	}
	return nil, agenterrors.NewBuilder(agenterrors.KindSystem).
		Code(history.CodeNotFound).
		Origin("ops").
		Severity(agenterrors.SeverityLow).
		Messagef("report %s not found", id).
		Wrap(history.ErrNotFound).
		Build()
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if ae, ok := agenterrors.As(err); ok {
		body["kind"] = ae.Kind
		if ae.Code != "" {
			body["code"] = ae.Code
		}
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	if agenterrors.Is(err, history.ErrNotFound) {
		return http.StatusNotFound
	}
	if agenterrors.Is(err, eventbus.ErrBusStopped) {
		return http.StatusServiceUnavailable
	}
	switch agenterrors.KindOf(err) {
	case agenterrors.KindParse, agenterrors.KindCorruptedInput:
		return http.StatusBadRequest
	case agenterrors.KindRateLimit:
		return http.StatusTooManyRequests
	case agenterrors.KindTimeout:
		return http.StatusGatewayTimeout
	case agenterrors.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case agenterrors.KindAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
