package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func tokenServer(t *testing.T, issued *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"token123","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClientAttachesToken(t *testing.T) {
	var issued atomic.Int32
	tokens := tokenServer(t, &issued)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	conf := Conf{ClientID: "sim", ClientSecret: "secret", TokenURL: tokens.URL}
	if err := conf.Validate(); err != nil {
		t.Fatal(err)
	}
	cl := conf.HTTPClient(context.Background(), nil)
	for i := 0; i < 2; i++ {
		resp, err := cl.Get(api.URL)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
	}
	if issued.Load() != 1 {
		t.Fatalf("token should be reused, issued %d", issued.Load())
	}
}

func TestToken(t *testing.T) {
	var issued atomic.Int32
	tokens := tokenServer(t, &issued)
	tok, err := Conf{ClientID: "sim", ClientSecret: "secret", TokenURL: tokens.URL}.Token(context.Background())
	if err != nil {
		t.Fatalf("Token returned error: %v", err)
	}
	if tok != "token123" {
		t.Fatalf("unexpected token %s", tok)
	}
	if _, err := (Conf{}).Token(context.Background()); err == nil {
		t.Fatal("expected error without token_url")
	}
}

func TestDisabledReturnsBase(t *testing.T) {
	base := &http.Client{}
	if (Conf{}).HTTPClient(context.Background(), base) != base {
		t.Fatal("expected base client")
	}
	if err := (Conf{TokenURL: "http://idp"}).Validate(); err == nil {
		t.Fatal("expected missing credentials error")
	}
}
