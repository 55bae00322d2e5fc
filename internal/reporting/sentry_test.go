package reporting

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	t.Run("connection reset by peer", func(t *testing.T) {
		t.Parallel()

		err := `Server error: Get "https://upstream.example/items?id=deadbeef8315465d9d44cfc238c64f71": read tcp [dead:beef:feb1:d745::c001]:64079->[dead:beef::6811:112a]:443: read: connection reset by peer`
		want := `Server error: Get "https://upstream.example/items?id=<uuid>": read tcp <host>-><host>: read: connection reset by peer`
		require.Equal(t, want, sanitizeError(err))
	})
	t.Run("context deadline", func(t *testing.T) {
		t.Parallel()

		err := `Server error: Get "https://upstream.example/items?id=deadbeef810845ca8424cf7ba5929a3e": context deadline exceeded (Client.Timeout exceeded while awaiting headers)`
		want := `Server error: Get "https://upstream.example/items?id=<uuid>": context deadline exceeded (Client.Timeout exceeded while awaiting headers)`
		require.Equal(t, want, sanitizeError(err))
	})
	t.Run("misc ipv6", func(t *testing.T) {
		t.Parallel()

		ips := []string{
			`1:2:3:4:5:6:7:8`,
			`1::`,
			`1:2:3:4:5:6:7::`,
			`1::8`,
			`1:2:3:4:5:6::8`,
			`1:2:3:4:5:6::8`,
			`1::7:8`,
			`1:2:3:4:5::7:8`,
			`1:2:3:4:5::8`,
			`1::6:7:8`,
			`1:2:3:4::6:7:8`,
			`1:2:3:4::8`,
			`1::5:6:7:8`,
			`1:2:3::5:6:7:8`,
			`1:2:3::8`,
			`1::4:5:6:7:8`,
			`1:2::4:5:6:7:8`,
			`1:2::8`,
			`1::3:4:5:6:7:8`,
			`1::3:4:5:6:7:8`,
			`1::8`,
			`::2:3:4:5:6:7:8`,
			`::8`,
			`::`,
		}
		for _, ip := range ips {
			t.Run(ip, func(t *testing.T) {
				t.Parallel()

				require.Equal(t, "<host>", sanitizeError(fmt.Sprintf("[%s]:1234", ip)))
			})
		}
	})
	t.Run("upstream requests", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			error string
			want  string
		}{
			{
				error: `failed to send request: Get "https://jsonplaceholder.typicode.com/posts/3": context deadline exceeded (Client.Timeout exceeded while awaiting headers)`,
				want:  `failed to send request: Get "https://jsonplaceholder.typicode.com/posts/<id>": context deadline exceeded (Client.Timeout exceeded while awaiting headers)`,
			},
			{
				error: `failed to send request: Get "http://127.0.0.1:41235/users/10": dial tcp 127.0.0.1:41235: connect: connection refused`,
				want:  `failed to send request: Get "http://<host>/users/<id>": dial tcp <host>: connect: connection refused`,
			},
			{
				// Listing endpoints are kept
				error: `unexpected status code 500 from GET /posts?_limit=5`,
				want:  `unexpected status code 500 from GET /posts?_limit=5`,
			},
			{
				error: `retrieval of /users panicked: runtime error: index out of range [3] with length 3`,
				want:  `retrieval of /users panicked: runtime error: index out of range [3] with length 3`,
			},
		}
		for _, tc := range cases {
			t.Run(tc.error, func(t *testing.T) {
				t.Parallel()

				require.Equal(t, tc.want, sanitizeError(tc.error))
			})
		}
	})
}

func TestReportWithoutHub(t *testing.T) {
	t.Parallel()

	// Must not panic when no hub is attached to the context
	Report(t.Context(), errors.New("network down"), map[string]string{"key": "/users"})
	Report(t.Context(), nil)
}

func TestMetaFromContext(t *testing.T) {
	t.Parallel()

	ctx := AddTagsToContext(t.Context(), map[string]string{"port": "users"})
	ctx = AddExtrasToContext(ctx, map[string]string{"key": "/users"})
	ctx = SetConnectionIDInContext(ctx, "conn-1")

	derived := AddTagsToContext(ctx, map[string]string{"port": "news"})

	meta := MetaFromContext(ctx)
	require.Equal(t, map[string]string{"port": "users"}, meta.tags)
	require.Equal(t, map[string]string{"key": "/users"}, meta.extras)
	require.Equal(t, "conn-1", meta.connectionID)

	require.Equal(t, map[string]string{"port": "news"}, MetaFromContext(derived).tags)
}
