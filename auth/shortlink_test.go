package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortener(t *testing.T) {
	ctx := context.Background()

	t.Run("returns shortened url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "secret", r.URL.Query().Get("api"))
			assert.Equal(t, "https://t.me/bot?start=token_abc", r.URL.Query().Get("url"))
			_, _ = w.Write([]byte(`{"shortenedUrl":"https://sho.rt/xyz"}`))
		}))
		defer srv.Close()

		s := NewShortener(srv.URL, "secret", WithShortenerClient(srv.Client()))
		got := s.Shorten(ctx, "https://t.me/bot?start=token_abc")
		require.Equal(t, "https://sho.rt/xyz", got)
	})

	t.Run("disabled shortener passes through", func(t *testing.T) {
		s := NewShortener("", "")
		assert.Equal(t, "https://long.example/x", s.Shorten(ctx, "https://long.example/x"))
	})

	t.Run("non-OK status falls back to long url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		s := NewShortener(srv.URL, "secret", WithShortenerClient(srv.Client()))
		assert.Equal(t, "https://long.example/x", s.Shorten(ctx, "https://long.example/x"))
	})

	t.Run("malformed response falls back to long url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		s := NewShortener(srv.URL, "secret", WithShortenerClient(srv.Client()))
		assert.Equal(t, "https://long.example/x", s.Shorten(ctx, "https://long.example/x"))
	})

	t.Run("unreachable endpoint falls back to long url", func(t *testing.T) {
		s := NewShortener("http://127.0.0.1:1", "secret")
		assert.Equal(t, "https://long.example/x", s.Shorten(ctx, "https://long.example/x"))
	})
}
