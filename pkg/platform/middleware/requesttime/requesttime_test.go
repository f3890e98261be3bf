package requesttime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"intake/pkg/requestcontext"
)

func TestMiddleware_PinsClockTime(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(at)

	var seen time.Time
	h := Middleware(clock)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		clock.Advance(time.Minute)
		seen = requestcontext.Now(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, at, seen)
}
