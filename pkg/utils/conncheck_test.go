package utils

import (
	"context"
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestExtractFromDBURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"full", "postgresql://user:pw@dbhost:6543/racemodel", "dbhost:6543"},
		{"default port", "postgresql://user:pw@dbhost/racemodel", "dbhost:5432"},
		{"postgres scheme", "postgres://user@localhost:5432/x?sslmode=disable", "localhost:5432"},
		{"no user", "postgresql://dbhost/racemodel", "dbhost:5432"},
		{"invalid", "mysql://dbhost/racemodel", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ExtractFromDBURL(tt.url), tt.want)
		})
	}
}

func TestExtractFromNatsURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"with port", "nats://nats.local:4333", "nats.local:4333"},
		{"default port", "nats://nats.local", "nats.local:4222"},
		{"credentials", "nats://user:pw@nats.local:4222", "nats.local:4222"},
		{"invalid", "http://nats.local", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ExtractFromNatsURL(tt.url), tt.want)
		})
	}
}

func TestWaitForTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	addr := l.Addr().String()
	assert.NilError(t, WaitForTCP(context.Background(), addr, time.Second))

	l.Close()
	err = WaitForTCP(context.Background(), addr, 300*time.Millisecond)
	assert.ErrorContains(t, err, "could not be reached")
}
