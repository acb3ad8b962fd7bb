package context

import (
	stdctx "context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorKey
	ipAddressKey
	userAgentKey
)

type actorValue struct {
	Type string
	ID   string
}

func WithRequestID(ctx stdctx.Context, requestID string) stdctx.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithActor records who is acting on behalf of the request. actorType is a
// role name for workers and "system" for internal callers.
func WithActor(ctx stdctx.Context, actorType, actorID string) stdctx.Context {
	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, actorKey, actorValue{Type: actorType, ID: strings.TrimSpace(actorID)})
}

func ActorFromContext(ctx stdctx.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey).(actorValue)
	if !ok {
		return "", ""
	}
	return value.Type, value.ID
}

func WithIPAddress(ctx stdctx.Context, ip string) stdctx.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, ipAddressKey, ip)
}

func IPAddressFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(ipAddressKey).(string)
	return value
}

func WithUserAgent(ctx stdctx.Context, userAgent string) stdctx.Context {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, userAgentKey, userAgent)
}

func UserAgentFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userAgentKey).(string)
	return value
}
