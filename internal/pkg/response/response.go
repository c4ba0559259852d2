package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeInvalidIdentifier   = "invalid_identifier"
	CodeInvalidRequest      = "invalid_request"
	CodeUnauthorized        = "unauthorized"
	CodeForbidden           = "forbidden"
	CodeNotFound            = "not_found"
	CodeInsufficientCredits = "insufficient_credits"
	CodePricingFailed       = "pricing_failed"
	CodeInvalidSignature    = "invalid_signature"
	CodeQuotaExceeded       = "quota_exceeded"
	CodeGatewayUnavailable  = "gateway_unavailable"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeServerError         = "server_error"
)

// 错误码对应的 HTTP 状态与默认消息
var codeStatus = map[string]int{
	CodeInvalidIdentifier:   http.StatusBadRequest,
	CodeInvalidRequest:      http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeInsufficientCredits: http.StatusPaymentRequired,
	CodePricingFailed:       http.StatusPaymentRequired,
	CodeInvalidSignature:    http.StatusBadRequest,
	CodeQuotaExceeded:       http.StatusTooManyRequests,
	CodeGatewayUnavailable:  http.StatusServiceUnavailable,
	CodeUpstreamUnavailable: http.StatusBadGateway,
	CodeServerError:         http.StatusInternalServerError,
}

var codeMessages = map[string]string{
	CodeInvalidIdentifier:   "invalid account or device identifier",
	CodeInvalidRequest:      "invalid request",
	CodeUnauthorized:        "authentication required",
	CodeForbidden:           "account mismatch",
	CodeNotFound:            "resource not found",
	CodeInsufficientCredits: "not enough credits for this operation",
	CodePricingFailed:       "unknown pack or unsupported currency",
	CodeInvalidSignature:    "signature verification failed",
	CodeQuotaExceeded:       "monthly free quota exhausted",
	CodeGatewayUnavailable:  "payment gateway unavailable, failed to confirm",
	CodeUpstreamUnavailable: "tool service unavailable",
	CodeServerError:         "internal server error",
}

// ErrorBody 统一错误结构
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Success 成功响应，直接输出数据
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Error 错误响应，状态码由错误码决定
func Error(c *gin.Context, code string, message string) {
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(status, ErrorBody{
		Error:   code,
		Message: message,
	})
}

// AbortError 中间件中使用，终止后续处理
func AbortError(c *gin.Context, code string, message string) {
	Error(c, code, message)
	c.Abort()
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	Error(c, CodeInvalidRequest, message)
}

// IdentifierError 标识符不合法
func IdentifierError(c *gin.Context, message string) {
	Error(c, CodeInvalidIdentifier, message)
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	Error(c, CodeUnauthorized, message)
}

// PermissionError 账户不匹配
func PermissionError(c *gin.Context, message string) {
	Error(c, CodeForbidden, message)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

// InsufficientCredits 余额不足
func InsufficientCredits(c *gin.Context, message string) {
	Error(c, CodeInsufficientCredits, message)
}

// QuotaError 匿名配额用尽
func QuotaError(c *gin.Context, message string) {
	Error(c, CodeQuotaExceeded, message)
}

// GatewayError 支付网关不可用
func GatewayError(c *gin.Context, message string) {
	Error(c, CodeGatewayUnavailable, message)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}
