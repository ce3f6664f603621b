package plex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	gobreaker "github.com/sony/gobreaker/v2"
)

func TestRefreshTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/data/movies/Film (2020)/film.mkv", "/data/movies/Film (2020)", false},
		{"/data/movies/Film (2020)", "/data/movies/Film (2020)", false},
		{"/tv/Mr. Robot", "/tv/Mr. Robot", false},
		{"/tv/Show/", "/tv/Show", false},
		{`\media\tv\ep.mp4`, "/media/tv", false},
		{"", "", true},
		{"   ", "", true},
		{"/", "", true},
		{"/movie.mkv", "", true},
	}
	for _, tt := range tests {
		got, err := RefreshTarget(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("RefreshTarget(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("RefreshTarget(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRefreshPath_Request(t *testing.T) {
	var gotPath, gotTarget, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTarget = r.URL.Query().Get("path")
		gotToken = r.URL.Query().Get("X-Plex-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok", 0)
	if err := c.RefreshPath(context.Background(), "3", "/media/movies/A/a.mkv"); err != nil {
		t.Fatalf("RefreshPath: %v", err)
	}
	if gotPath != "/library/sections/3/refresh" {
		t.Errorf("path = %q", gotPath)
	}
	if gotTarget != "/media/movies/A" {
		t.Errorf("refresh target = %q", gotTarget)
	}
	if gotToken != "tok" {
		t.Errorf("token = %q", gotToken)
	}
}

func TestRefreshPath_NotConfigured(t *testing.T) {
	c := New("", "", 0)
	if err := c.RefreshPath(context.Background(), "1", "/a/b"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	c = New("http://plex:32400", "tok", 0)
	if err := c.RefreshPath(context.Background(), "", "/a/b"); err == nil {
		t.Error("missing section id accepted")
	}
}

func TestRefreshPath_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", 0)
	for i := 0; i < 5; i++ {
		if err := c.RefreshPath(context.Background(), "1", "/a/b"); err == nil {
			t.Fatalf("attempt %d succeeded against failing server", i)
		}
	}
	err := c.RefreshPath(context.Background(), "1", "/a/b")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want open breaker", err)
	}
	if n := hits.Load(); n != 5 {
		t.Errorf("server hit %d times, want 5", n)
	}
}

func TestSections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/library/sections" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"MediaContainer":{"Directory":[
			{"key":"1","title":"Movies","type":"movie"},
			{"key":"2","title":"Music","type":"artist"}]}}`))
	}))
	defer srv.Close()

	secs, err := New(srv.URL, "tok", 0).Sections(context.Background())
	if err != nil {
		t.Fatalf("Sections: %v", err)
	}
	if len(secs) != 2 || secs[0].Key != "1" || secs[0].Title != "Movies" || secs[1].Type != "artist" {
		t.Errorf("sections = %+v", secs)
	}
}

func TestIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("X-Plex-Token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"MediaContainer":{"machineIdentifier":"abc123"}}`))
	}))
	defer srv.Close()

	id, err := New(srv.URL, "tok", 0).Identity(context.Background())
	if err != nil || id != "abc123" {
		t.Fatalf("Identity = %q, %v", id, err)
	}
	if _, err := New(srv.URL, "bad", 0).Identity(context.Background()); err == nil {
		t.Error("unauthorized identity accepted")
	}
}
