package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// Code 表示链管理服务的统一错误码，同时作为 networkError 事件的 errorType。
type Code string

// Severity 描述错误的严重程度，critical 级别在事件中标记为致命。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeValidation            Code = "VALIDATION_FAILED"
	CodeUnsupportedChain      Code = "UNSUPPORTED_CHAIN"
	CodeDuplicateChain        Code = "DUPLICATE_CHAIN"
	CodeCannotRemoveDefault   Code = "CANNOT_REMOVE_DEFAULT"
	CodeCannotRemoveActive    Code = "CANNOT_REMOVE_ACTIVE"
	CodeClientNotFound        Code = "CLIENT_NOT_FOUND"
	CodeUnhealthyTarget       Code = "UNHEALTHY_TARGET"
	CodeRPC                   Code = "RPC_ERROR"
	CodeTransactionTimeout    Code = "TRANSACTION_TIMEOUT"
	CodeCanceled              Code = "CANCELED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeSinkFailure           Code = "SINK_FAILURE"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Status    int
	Retryable bool
	Alert     bool
}

var attributes = map[Code]Attributes{
	CodeUnknown:               {"unknown error", SeverityCritical, http.StatusInternalServerError, false, true},
	CodeInvalidArgument:       {"invalid argument", SeverityInfo, http.StatusBadRequest, false, false},
	CodeValidation:            {"invalid chain configuration", SeverityInfo, http.StatusBadRequest, false, false},
	CodeUnsupportedChain:      {"unsupported chain", SeverityInfo, http.StatusNotFound, false, false},
	CodeDuplicateChain:        {"chain already supported", SeverityInfo, http.StatusConflict, false, false},
	CodeCannotRemoveDefault:   {"cannot remove default chain", SeverityWarning, http.StatusConflict, false, false},
	CodeCannotRemoveActive:    {"cannot remove currently active chain", SeverityWarning, http.StatusConflict, false, false},
	CodeClientNotFound:        {"network client not found", SeverityWarning, http.StatusNotFound, false, false},
	CodeUnhealthyTarget:       {"target network is not healthy", SeverityWarning, http.StatusServiceUnavailable, true, false},
	CodeRPC:                   {"rpc request failed", SeverityWarning, http.StatusBadGateway, true, true},
	CodeTransactionTimeout:    {"transaction confirmation timed out", SeverityCritical, http.StatusGatewayTimeout, false, true},
	CodeCanceled:              {"operation canceled", SeverityInfo, http.StatusRequestTimeout, false, false},
	CodeInitializationFailure: {"service not initialized", SeverityWarning, http.StatusServiceUnavailable, true, true},
	CodeSinkFailure:           {"event sink failure", SeverityWarning, http.StatusInternalServerError, true, false},
}

// AttributesOf 返回错误码对应的属性，未知错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	if attr, ok := attributes[code]; ok {
		return attr
	}
	return attributes[CodeUnknown]
}

// Error 是链管理服务统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	details  []string
	metadata map[string]string

	// 非空时覆盖错误码的默认属性。
	retryable *bool
	alert     *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加键值信息，例如链 ID、RPC 地址或交易哈希。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithDetails 附加逐项的错误明细，例如配置校验失败的字段列表。
func WithDetails(details ...string) Option {
	return func(e *Error) { e.details = append(e.details, details...) }
}

func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

func WithAlert(alert bool) Option {
	return func(e *Error) { e.alert = &alert }
}

func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.severity = &sev }
}

// New 创建错误，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在底层错误外包裹错误码。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.code, e.message)
	if len(e.details) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.details, ", "))
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，使 errors.Is(err, New(CodeX, "")) 可用作哨兵判断。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details 返回错误明细的副本。
func (e *Error) Details() []string {
	if e == nil || len(e.details) == 0 {
		return nil
	}
	return append([]string(nil), e.details...)
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return AttributesOf(e.code).Alert
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 从错误链中取出统一错误类型。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误码，非统一错误类型返回 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// DetailsOf 返回错误明细，非统一错误类型返回 nil。
func DetailsOf(err error) []string {
	if e, ok := From(err); ok {
		return e.Details()
	}
	return nil
}

func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert 判断错误是否需要推送到告警通道。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// IsFatal 报告错误是否达到 critical 级别，对应 networkError 事件的 isFatal。
func IsFatal(err error) bool {
	return SeverityOf(err) == SeverityCritical
}

// StatusOf 返回错误码对应的 HTTP 状态码。
func StatusOf(err error) int {
	return AttributesOf(CodeOf(err)).Status
}
