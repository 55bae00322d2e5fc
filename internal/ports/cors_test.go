package ports_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Amund211/flashfetch/internal/ports"
	"github.com/stretchr/testify/require"
)

const PROD_DOMAIN_SUFFIX = "flashfetch.dev"
const PREVIEW_DOMAIN_SUFFIX = "flashfetch-web.pages.dev"

type originRule struct {
	origin  string
	allowed bool
}

func TestCORS(t *testing.T) {
	t.Parallel()
	allowedOrigins, err := ports.NewDomainSuffixes(
		PROD_DOMAIN_SUFFIX,
		PREVIEW_DOMAIN_SUFFIX,
	)
	require.NoError(t, err)

	cases := []originRule{
		// Prod
		{origin: "https://flashfetch.dev", allowed: true},
		{origin: "https://www.flashfetch.dev", allowed: true},
		// Previews
		{origin: "https://3f9a01c2.flashfetch-web.pages.dev", allowed: true},
		{origin: "https://flashfetch-web.pages.dev", allowed: true},
		// Other pages
		{origin: "example.com", allowed: false},
		{origin: "https://example.com", allowed: false},
		{origin: "https://jsonplaceholder.typicode.com", allowed: false},
		// Similar-looking domains
		{origin: "https://flash-fetch.dev", allowed: false},
		{origin: "https://myflashfetch.dev", allowed: false},
		{origin: "https://www.myflashfetch.dev", allowed: false},
		{origin: "https://superflashfetch-web.pages.dev", allowed: false},
		// Wrong scheme
		{origin: "http://flashfetch.dev", allowed: false},
		{origin: "http://www.flashfetch.dev", allowed: false},
		// Weird cases
		{origin: "", allowed: false},
		{origin: "flashfetch", allowed: false},
		{origin: "flashfetch.dev", allowed: false},
		{origin: "pages.dev", allowed: false},
	}

	runCORSTest := func(t *testing.T, handler http.HandlerFunc, method string, c originRule, handlerStatusCode int, handlerBody []byte) {
		req := httptest.NewRequest(method, "https://api.flashfetch.dev", nil)
		req.Header.Set("Origin", c.origin)
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()

		// The handler is allowed to run when the method is not OPTIONS
		if method != "OPTIONS" || !c.allowed {
			require.Equal(t, handlerStatusCode, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, handlerBody, body)
		}

		if c.allowed {
			require.Equal(t, c.origin, resp.Header.Get("Access-Control-Allow-Origin"))

			if method == "OPTIONS" {
				require.Equal(t, http.StatusNoContent, resp.StatusCode)
				require.Equal(t, "GET,POST,DELETE", resp.Header.Get("Access-Control-Allow-Methods"))
				require.Equal(t, "Content-Type, X-Request-Id", resp.Header.Get("Access-Control-Allow-Headers"))
			} else {
				require.Empty(t, resp.Header.Get("Access-Control-Allow-Methods"))
				require.Empty(t, resp.Header.Get("Access-Control-Allow-Headers"))
			}
		} else {
			require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
			require.Empty(t, resp.Header.Get("Access-Control-Allow-Methods"))
			require.Empty(t, resp.Header.Get("Access-Control-Allow-Headers"))
		}
	}

	t.Run("BuildCORSMiddleware", func(t *testing.T) {
		t.Parallel()

		middleware := ports.BuildCORSMiddleware(allowedOrigins)

		handler := middleware(
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(200)
				w.Write([]byte("Hello, world!"))
			},
		)

		for _, c := range cases {
			t.Run(fmt.Sprintf("Origin:'%s'", c.origin), func(t *testing.T) {
				t.Parallel()
				for _, method := range []string{"GET", "POST", "DELETE", "OPTIONS"} {
					t.Run(method, func(t *testing.T) {
						t.Parallel()

						runCORSTest(t, handler, method, c, 200, []byte("Hello, world!"))
					})
				}
			})
		}
	})

	t.Run("BuildCORSHandler", func(t *testing.T) {
		t.Parallel()

		handler := ports.BuildCORSHandler(allowedOrigins)

		for _, c := range cases {
			t.Run(fmt.Sprintf("Origin:'%s'", c.origin), func(t *testing.T) {
				t.Parallel()
				for _, method := range []string{"GET", "OPTIONS"} {
					t.Run(method, func(t *testing.T) {
						t.Parallel()

						runCORSTest(t, handler, method, c, 204, []byte{})
					})
				}
			})
		}
	})
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	allowedOrigins, err := ports.NewDomainSuffixes(PROD_DOMAIN_SUFFIX)
	require.NoError(t, err)

	cases := []struct {
		name    string
		host    string
		origin  string
		allowed bool
	}{
		{name: "no origin", host: "localhost:8123", origin: "", allowed: true},
		{name: "same origin", host: "localhost:8123", origin: "http://localhost:8123", allowed: true},
		{name: "allowed domain", host: "api.example.com", origin: "https://www.flashfetch.dev", allowed: true},
		{name: "other port", host: "localhost:8123", origin: "http://localhost:3000", allowed: false},
		{name: "other domain", host: "localhost:8123", origin: "https://evil.example", allowed: false},
		{name: "unparsable origin", host: "localhost:8123", origin: "http://[::1", allowed: false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest("GET", "/ws", nil)
			req.Host = c.host
			if c.origin != "" {
				req.Header.Set("Origin", c.origin)
			}

			require.Equal(t, c.allowed, allowedOrigins.CheckOrigin(req))
		})
	}

	t.Run("invalid suffixes", func(t *testing.T) {
		t.Parallel()

		_, err := ports.NewDomainSuffixes(".flashfetch.dev")
		require.Error(t, err)

		_, err = ports.NewDomainSuffixes("https://flashfetch.dev")
		require.Error(t, err)
	})
}
