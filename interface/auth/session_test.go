package auth_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airbusgeo/cdse-dl/interface/auth"
	"github.com/airbusgeo/cdse-dl/interface/auth/authtest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// recorder is an api server recording the Authorization header it receives
type recorder struct {
	*httptest.Server
	mu      sync.Mutex
	headers []string
	handler func(w http.ResponseWriter, r *http.Request)
}

func newRecorder(handler func(w http.ResponseWriter, r *http.Request)) *recorder {
	rec := &recorder{handler: handler}
	rec.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.headers = append(rec.headers, r.Header.Get("Authorization"))
		rec.mu.Unlock()
		rec.handler(w, r)
	}))
	return rec
}

func (rec *recorder) received() []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]string{}, rec.headers...)
}

// localhostURL returns the url of the server using "localhost" instead of "127.0.0.1"
func localhostURL(srv *httptest.Server) string {
	return strings.Replace(srv.URL, "127.0.0.1", "localhost", 1)
}

var _ = Describe("Session", func() {
	var (
		ctx      context.Context
		identity *authtest.Identity
		clock    *authtest.Clock
	)

	BeforeEach(func() {
		ctx = context.Background()
		identity = authtest.NewIdentity("user", "pwd")
		clock = authtest.NewClock(time.Now())
	})

	AfterEach(func() {
		identity.Close()
	})

	Describe("token handling", func() {
		var api *recorder
		var status int32

		BeforeEach(func() {
			atomic.StoreInt32(&status, http.StatusOK)
			api = newRecorder(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(int(atomic.LoadInt32(&status)))
				body, _ := io.ReadAll(r.Body)
				w.Write(body)
			})
		})

		AfterEach(func() {
			api.Close()
		})

		It("should attach the bearer token", func() {
			session, err := identity.NewSession(ctx, clock)
			Expect(err).NotTo(HaveOccurred())
			resp, err := session.Get(ctx, api.URL, nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(api.received()).To(Equal([]string{"Bearer access-1"}))
		})

		It("should refresh an expired token exactly once before sending", func() {
			session, err := identity.NewSession(ctx, clock)
			Expect(err).NotTo(HaveOccurred())
			clock.Advance(10 * time.Minute)

			resp, err := session.Get(ctx, api.URL, nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			password, refresh := identity.Calls()
			Expect(password).To(Equal(1))
			Expect(refresh).To(Equal(1))
			Expect(api.received()).To(Equal([]string{"Bearer access-2"}))
		})

		It("should refresh only once when concurrent requests see an expired token", func() {
			session, err := identity.NewSession(ctx, clock)
			Expect(err).NotTo(HaveOccurred())
			clock.Advance(10 * time.Minute)

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					resp, err := session.Get(ctx, api.URL, nil)
					Expect(err).NotTo(HaveOccurred())
					resp.Body.Close()
				}()
			}
			wg.Wait()
			_, refresh := identity.Calls()
			Expect(refresh).To(Equal(1))
			for _, h := range api.received() {
				Expect(h).To(Equal("Bearer access-2"))
			}
		})

		It("should retry once on 401 with a new token and replay the body", func() {
			session, err := identity.NewSession(ctx, clock)
			Expect(err).NotTo(HaveOccurred())
			var calls int32
			api.handler = func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				if atomic.AddInt32(&calls, 1) == 1 {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				w.Write(body)
			}
			var out map[string]string
			err = session.SendJSON(ctx, http.MethodPost, api.URL, map[string]string{"a": "b"}, &out)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(map[string]string{"a": "b"}))
			Expect(api.received()).To(Equal([]string{"Bearer access-1", "Bearer access-2"}))
		})

		It("should return the second 401 without retrying again", func() {
			session, err := identity.NewSession(ctx, clock)
			Expect(err).NotTo(HaveOccurred())
			atomic.StoreInt32(&status, http.StatusUnauthorized)

			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, api.URL, nil)
			resp, err := session.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(api.received()).To(HaveLen(2))
			_, refresh := identity.Calls()
			Expect(refresh).To(Equal(1))
		})

		It("should surface the re-authentication error when the token cannot be renewed", func() {
			session, err := identity.NewSession(ctx, clock)
			Expect(err).NotTo(HaveOccurred())
			clock.Advance(time.Hour)
			identity.FailRefresh(true)
			identity.FailPassword(true)

			_, err = session.Get(ctx, api.URL, nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("Invalid user credentials"))
			Expect(api.received()).To(BeEmpty())
		})

		It("should propagate transport errors", func() {
			session, err := identity.NewSession(ctx, clock)
			Expect(err).NotTo(HaveOccurred())
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err = session.Get(cctx, api.URL, nil)
			Expect(err).To(MatchError(context.Canceled))
		})
	})

	Describe("redirect policy", func() {
		var target, origin *recorder

		BeforeEach(func() {
			target = newRecorder(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/hop" {
					http.Redirect(w, r, localhostURL(target.Server)+"/final", http.StatusFound)
					return
				}
				fmt.Fprint(w, "ok")
			})
			origin = newRecorder(func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, r.URL.Query().Get("to"), http.StatusFound)
			})
		})

		AfterEach(func() {
			target.Close()
			origin.Close()
		})

		get := func(session *auth.Session, to string) {
			resp, err := session.Get(ctx, origin.URL+"/?to="+to, nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
		}

		It("should keep the header between trusted hosts", func() {
			session, err := identity.NewSession(ctx, clock, auth.WithTrustedHosts("127.0.0.1", "localhost"))
			Expect(err).NotTo(HaveOccurred())
			get(session, localhostURL(target.Server))
			Expect(target.received()).To(Equal([]string{"Bearer access-1"}))
		})

		It("should strip the header from a trusted to an untrusted host", func() {
			session, err := identity.NewSession(ctx, clock, auth.WithTrustedHosts("127.0.0.1"))
			Expect(err).NotTo(HaveOccurred())
			get(session, localhostURL(target.Server))
			Expect(target.received()).To(Equal([]string{""}))
		})

		It("should strip the header from an untrusted to a trusted host", func() {
			session, err := identity.NewSession(ctx, clock, auth.WithTrustedHosts("localhost"))
			Expect(err).NotTo(HaveOccurred())
			get(session, localhostURL(target.Server))
			Expect(target.received()).To(Equal([]string{""}))
		})

		It("should keep the header on the same host", func() {
			session, err := identity.NewSession(ctx, clock, auth.WithTrustedHosts())
			Expect(err).NotTo(HaveOccurred())
			get(session, target.URL)
			Expect(target.received()).To(Equal([]string{"Bearer access-1"}))
		})

		It("should never add the header again once stripped", func() {
			session, err := identity.NewSession(ctx, clock, auth.WithTrustedHosts("127.0.0.1"))
			Expect(err).NotTo(HaveOccurred())
			// 127.0.0.1 -> localhost (stripped) -> localhost (same host)
			get(session, localhostURL(target.Server)+"/hop")
			Expect(target.received()).To(Equal([]string{"", ""}))
		})

		It("should trust the CDSE hosts by default", func() {
			Expect(auth.DefaultTrustedHosts).To(ConsistOf(
				"catalogue.dataspace.copernicus.eu",
				"download.dataspace.copernicus.eu",
				"zipper.dataspace.copernicus.eu"))
		})
	})
})
