// Package apierror turns raw transport failures into the six user-facing error
// kinds shown by the UI. Classify is the only place APIErrors are built.
package apierror

import (
	"errors"
	"fmt"
)

// Kind identifies one of the six error categories.
type Kind string

const (
	KindNetwork         Kind = "NETWORK"
	KindAuthInvalid     Kind = "AUTH_INVALID"
	KindRateLimit       Kind = "RATE_LIMIT"
	KindInvalidResponse Kind = "INVALID_RESPONSE"
	KindStorageQuota    Kind = "STORAGE_QUOTA"
	KindAborted         Kind = "ABORTED"
)

// Action is the affordance the UI should offer next to the error.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionSettings Action = "settings"
	ActionDismiss  Action = "dismiss"
)

type descriptor struct {
	message    string
	userAction string
	title      string
	retryable  bool
	action     Action
}

//nolint:gochecknoglobals // Static lookup table
var descriptors = map[Kind]descriptor{
	KindNetwork: {
		message:    "网络连接失败，请检查您的网络设置",
		userAction: "点击重试或稍后再试",
		title:      "网络错误",
		retryable:  true,
		action:     ActionRetry,
	},
	KindAuthInvalid: {
		message:    "API Key 无效或已过期",
		userAction: "请前往设置页面检查您的 API 配置",
		title:      "认证失败",
		retryable:  false,
		action:     ActionSettings,
	},
	KindRateLimit: {
		message:    "API 调用次数已达上限",
		userAction: "请稍后再试，或配置您自己的 API Key 以解除限制",
		title:      "请求限制",
		retryable:  true,
		action:     ActionRetry,
	},
	KindInvalidResponse: {
		message:    "AI 返回了无效的响应格式",
		userAction: "请重试，如果问题持续请联系支持",
		title:      "响应错误",
		retryable:  true,
		action:     ActionRetry,
	},
	KindStorageQuota: {
		message:    "浏览器存储空间不足",
		userAction: "请删除一些旧的研究会话或清理浏览器缓存",
		title:      "存储空间不足",
		retryable:  false,
		action:     ActionDismiss,
	},
	KindAborted: {
		message:    "请求已取消",
		userAction: "操作已中止",
		title:      "请求已取消",
		retryable:  false,
		action:     ActionDismiss,
	},
}

// Kinds returns every error kind in display order.
func Kinds() []Kind {
	return []Kind{
		KindNetwork,
		KindAuthInvalid,
		KindRateLimit,
		KindInvalidResponse,
		KindStorageQuota,
		KindAborted,
	}
}

// Retryable reports whether errors of this kind may be retried.
func (k Kind) Retryable() bool {
	return descriptors[k].retryable
}

// APIError is the classified, user-facing form of a failure.
type APIError struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	UserAction string `json:"userAction"`
	Retryable  bool   `json:"retryable"`
	Cause      error  `json:"-"`
}

// New builds the APIError for kind. Unknown kinds fall back to INVALID_RESPONSE.
func New(kind Kind, cause error) *APIError {
	d, ok := descriptors[kind]
	if !ok {
		kind = KindInvalidResponse
		d = descriptors[kind]
	}

	return &APIError{
		Kind:       kind,
		Message:    d.message,
		UserAction: d.userAction,
		Retryable:  d.retryable,
		Cause:      cause,
	}
}

func (e *APIError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Title is the short heading shown above the message.
func (e *APIError) Title() string {
	return descriptors[e.Kind].title
}

// Action is the button the UI should render for this error.
func (e *APIError) Action() Action {
	return descriptors[e.Kind].action
}

// Is matches another APIError of the same kind.
func (e *APIError) Is(target error) bool {
	var other *APIError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}
