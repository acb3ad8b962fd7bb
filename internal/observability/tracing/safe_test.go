package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsUnknownKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/needs/:id"),
		attribute.String("need.note", "private"),
		attribute.String("need.kind", "regular"),
	)
	assert.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("need.note"), attr.Key)
	}
}

func TestSafeErrorKeepsOutermostMessage(t *testing.T) {
	err := fmt.Errorf("load need: %w", errors.New("pq: relation needs does not exist"))
	assert.EqualError(t, SafeError(err), "load need")
	assert.Nil(t, SafeError(nil))
}
