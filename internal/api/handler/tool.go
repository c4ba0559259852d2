package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/credit_ledger_server/internal/api/middleware"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/response"
	"github.com/qs3c/credit_ledger_server/internal/service"
)

// ToolHandler 计费工具的反向代理，计费由 middleware.Meter 完成
type ToolHandler struct {
	tools   map[string]service.ToolPricing
	proxies map[string]*httputil.ReverseProxy
	logger  *zap.Logger
}

// ToolInfo 工具价格
type ToolInfo struct {
	Name        string        `json:"name"`
	CostPerPage credit.Amount `json:"costPerPage"`
	MinCost     credit.Amount `json:"minCost"`
	Available   bool          `json:"available"`
}

func NewToolHandler(tools map[string]service.ToolPricing, logger *zap.Logger) (*ToolHandler, error) {
	h := &ToolHandler{
		tools:   tools,
		proxies: make(map[string]*httputil.ReverseProxy, len(tools)),
		logger:  logger,
	}
	for name, tool := range tools {
		if tool.Upstream == "" {
			continue
		}
		target, err := url.Parse(tool.Upstream)
		if err != nil {
			return nil, err
		}
		h.proxies[name] = h.newProxy(name, target)
	}
	return h, nil
}

func (h *ToolHandler) newProxy(name string, target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.URL.Path = target.Path
			r.Out.URL.RawPath = ""
			r.Out.Header.Del("Authorization")
			r.Out.Header.Del("Cookie")
			r.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Warn("tool upstream failed", zap.String("tool", name), zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(response.ErrorBody{
				Error:   response.CodeUpstreamUnavailable,
				Message: "tool service unavailable",
			})
		},
	}
}

// List 工具列表与单价
// GET /api/v1/tools
func (h *ToolHandler) List(c *gin.Context) {
	names := service.ToolNames(h.tools)
	items := make([]ToolInfo, 0, len(names))
	for _, name := range names {
		t := h.tools[name]
		_, ok := h.proxies[name]
		items = append(items, ToolInfo{
			Name:        t.Name,
			CostPerPage: t.CostPerPage,
			MinCost:     t.MinCost,
			Available:   ok,
		})
	}
	response.Success(c, gin.H{"tools": items})
}

// Proxy 转发到工具上游
// POST /api/v1/tools/:tool
func (h *ToolHandler) Proxy(c *gin.Context) {
	tool, ok := middleware.GetTool(c)
	if !ok {
		response.NotFoundError(c, "unknown tool")
		return
	}
	proxy, ok := h.proxies[tool.Name]
	if !ok {
		response.Error(c, response.CodeGatewayUnavailable, "tool upstream not configured")
		return
	}
	proxy.ServeHTTP(c.Writer, c.Request)
}
