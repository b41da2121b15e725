package service

import (
	"context"
	"unicode/utf8"
)

const (
	maxUserAgent = 255
	maxIPAddress = 45
)

// Client describes the caller a refresh token is issued to.
type Client struct {
	UserAgent string
	IP        string
}

type clientKey struct{}

// WithClient attaches the caller's details to ctx.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

func ClientFrom(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(clientKey{}).(Client)
	return c, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
