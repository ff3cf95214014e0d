package licensehttp_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elnormous/contenttype"
	drmsession "github.com/ggoodman/drm-session-go"
	"github.com/ggoodman/drm-session-go/drm"
	"github.com/ggoodman/drm-session-go/drmtest"
	"github.com/ggoodman/drm-session-go/licensehttp"
)

var octetStream = contenttype.NewMediaType("application/octet-stream")

// licenseServer answers every challenge with "license:" + challenge.
func licenseServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ct, err := contenttype.GetMediaType(r)
		if err != nil || !ct.Matches(octetStream) {
			http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", octetStream.String())
		_, _ = w.Write(append([]byte("license:"), body...))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func boundSession(t *testing.T, key string) (*drmtest.Session, *drmtest.Helper) {
	t.Helper()
	h := &drmtest.Helper{System: drm.WidevineSystemID}
	if err := h.Parse(drmtest.InitBytes(drmtest.Key(key))); err != nil {
		t.Fatalf("parse: %v", err)
	}
	initData, _ := h.InitData()
	s := drmtest.NewSession(drm.WidevineSystemID, drm.MediaTypeVideo)
	if err := s.Generate(context.Background(), initData, nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	return s, h
}

func TestAcquireLicense(t *testing.T) {
	srv := licenseServer(t)
	a := licensehttp.New(licensehttp.Config{URL: srv.URL})
	sess, helper := boundSession(t, "a")

	err := a.AcquireLicense(context.Background(), &drm.LicenseAcquisition{Helper: helper, Session: sess})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if sess.State() != drm.StateReady {
		t.Fatalf("expected ready, got %s", sess.State())
	}
	licenses := sess.Licenses()
	want := append([]byte("license:challenge:"), sess.InitData()...)
	if len(licenses) != 1 || !bytes.Equal(licenses[0], want) {
		t.Fatalf("unexpected license %q", licenses)
	}
}

func TestHelperURLWins(t *testing.T) {
	srv := licenseServer(t)
	a := licensehttp.New(licensehttp.Config{URL: "http://127.0.0.1:1/unused"})
	sess, helper := boundSession(t, "a")
	helper.LicenseURL = srv.URL

	if err := a.AcquireLicense(context.Background(), &drm.LicenseAcquisition{Helper: helper, Session: sess}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
}

func TestAcquireLicenseErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "Empty",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/octet-stream")
				w.WriteHeader(http.StatusOK)
			},
			want: licensehttp.ErrEmptyLicense,
		},
		{
			name: "HTMLErrorPage",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write([]byte("<html>proxy error</html>"))
			},
			want: licensehttp.ErrUnexpectedContentType,
		},
		{
			name: "TooLarge",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/octet-stream")
				_, _ = w.Write(bytes.Repeat([]byte{1}, 64))
			},
			want: licensehttp.ErrLicenseResponseTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			a := licensehttp.New(licensehttp.Config{URL: srv.URL, MaxResponseBytes: 32})
			sess, helper := boundSession(t, "a")
			err := a.AcquireLicense(context.Background(), &drm.LicenseAcquisition{Helper: helper, Session: sess})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if sess.State() == drm.StateReady {
				t.Fatal("session must not become ready")
			}
		})
	}

	t.Run("Status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "denied", http.StatusForbidden)
		}))
		defer srv.Close()
		a := licensehttp.New(licensehttp.Config{URL: srv.URL})
		sess, helper := boundSession(t, "a")
		err := a.AcquireLicense(context.Background(), &drm.LicenseAcquisition{Helper: helper, Session: sess})
		var se *licensehttp.StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 StatusError, got %v", err)
		}
	})

	t.Run("NoURL", func(t *testing.T) {
		a := licensehttp.New(licensehttp.Config{})
		sess, helper := boundSession(t, "a")
		err := a.AcquireLicense(context.Background(), &drm.LicenseAcquisition{Helper: helper, Session: sess})
		if !errors.Is(err, licensehttp.ErrNoLicenseURL) {
			t.Fatalf("expected ErrNoLicenseURL, got %v", err)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)
		a := licensehttp.New(licensehttp.Config{URL: srv.URL, Timeout: 30 * time.Millisecond})
		sess, helper := boundSession(t, "a")
		err := a.AcquireLicense(context.Background(), &drm.LicenseAcquisition{Helper: helper, Session: sess})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestNewFromEnv(t *testing.T) {
	srv := licenseServer(t)
	t.Setenv("DRM_LICENSE_URL", srv.URL)
	t.Setenv("DRM_LICENSE_TIMEOUT", "2s")
	a, err := licensehttp.NewFromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	sess, helper := boundSession(t, "a")
	if err := a.AcquireLicense(context.Background(), &drm.LicenseAcquisition{Helper: helper, Session: sess}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
}

func TestManagerWithHTTPAcquirer(t *testing.T) {
	srv := licenseServer(t)
	factory := drmtest.NewSessionFactory()
	m, err := drmsession.New(
		drm.NewRegistry(drmtest.NewProvider("fake", drm.WidevineSystemID)),
		factory,
		drmsession.WithLicenseAcquirer(licensehttp.New(licensehttp.Config{URL: srv.URL})),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer m.Close()

	h, err := m.CreateSession(context.Background(), drmsession.CreateRequest{
		SystemID:  drm.WidevineSystemID,
		InitBytes: drmtest.InitBytes(drmtest.Key("a")),
		MediaType: drm.MediaTypeVideo,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if h.Session.State() != drm.StateReady {
		t.Fatalf("expected ready, got %s", h.Session.State())
	}
	if len(factory.Sessions()[0].Licenses()) != 1 {
		t.Fatal("expected one license delivered to the session")
	}
}
