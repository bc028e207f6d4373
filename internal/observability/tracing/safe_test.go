package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributes(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/access/redeem"),
		attribute.String("user.email", "a@example.com"),
		attribute.String("access_key", "ABCD-EFGH"),
		attribute.Int("http.status_code", 200),
	)

	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
	assert.Equal(t, attribute.Key("http.status_code"), attrs[1].Key)
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(errors.New("db timeout")), "db timeout")
	assert.EqualError(t, SafeError(errors.New("invalid password for user")), "redacted error")
}
