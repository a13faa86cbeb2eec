package app

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/mongostash/internal/infrastructure/logger"
)

const clientSecret = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"shh","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`

func TestDriveAuth(t *testing.T) {
	Convey("Given a client secret file", t, func() {
		path := filepath.Join(t.TempDir(), "client_secret.json")
		So(os.WriteFile(path, []byte(clientSecret), 0o600), ShouldBeNil)

		auth, err := NewDriveAuth(logger.NewNop(), path, "http://localhost:8085/auth/google/callback")
		So(err, ShouldBeNil)
		handler := auth.Handler()

		Convey("The start page redirects to Google with offline access", func() {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/drive", nil))

			So(rec.Code, ShouldEqual, http.StatusTemporaryRedirect)
			location, err := url.Parse(rec.Header().Get("Location"))
			So(err, ShouldBeNil)
			So(location.Host, ShouldEqual, "accounts.google.com")
			So(location.Query().Get("access_type"), ShouldEqual, "offline")
			So(location.Query().Get("redirect_uri"), ShouldEqual, "http://localhost:8085/auth/google/callback")
			So(location.Query().Get("state"), ShouldEqual, auth.state)
		})

		Convey("A callback with a foreign state is rejected", func() {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=forged&code=x", nil))
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A callback without a code is rejected", func() {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback?state="+auth.state, nil))
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})
	})

	Convey("A missing client secret path is an error", t, func() {
		_, err := NewDriveAuth(logger.NewNop(), "", "")
		So(err, ShouldNotBeNil)
	})
}
