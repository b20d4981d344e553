package subscriptions_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/airbusgeo/cdse-dl/interface/subscriptions"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Receiver", func() {
	var (
		srv      *httptest.Server
		received []subscriptions.Entity
		sinkErr  error
	)

	BeforeEach(func() {
		received, sinkErr = nil, nil
		rc := subscriptions.NewReceiver("cdse", "secret", func(ctx context.Context, e subscriptions.Entity) error {
			received = append(received, e)
			return sinkErr
		})
		srv = httptest.NewServer(rc.Handler(context.Background()))
	})

	AfterEach(func() {
		srv.Close()
	})

	post := func(body string, auth bool) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/notifications", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		if auth {
			req.SetBasicAuth("cdse", "secret")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		return resp
	}

	notification := `{"@odata.context":"$metadata#Notification/$entity","SubscriptionEvent":"created","ProductId":"p-1",
		"ProductName":"S1A.SAFE","SubscriptionId":"sub-1","NotificationDate":"2024-01-01T00:00:00Z",
		"value":{"Id":"p-1","Name":"S1A.SAFE","ContentLength":10}}`

	It("should hand the notification to the sink", func() {
		resp := post(notification, true)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("X-Request-Id")).To(HaveLen(36))
		Expect(received).To(HaveLen(1))
		Expect(received[0].Product().ContentLength).To(Equal(int64(10)))
		Expect(received[0].SubscriptionEvent).To(Equal(subscriptions.EventCreated))
	})

	It("should reject unauthenticated notifications", func() {
		resp := post(notification, false)
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(received).To(BeEmpty())
	})

	It("should reject invalid notifications", func() {
		Expect(post(`{`, true).StatusCode).To(Equal(http.StatusBadRequest))
		Expect(post(`{"SubscriptionEvent":"created"}`, true).StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("should return 500 when the sink fails", func() {
		sinkErr = errors.New("queue full")
		Expect(post(notification, true).StatusCode).To(Equal(http.StatusInternalServerError))
	})

	It("should serve health without authentication", func() {
		resp, err := http.Get(srv.URL + "/health")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("should serve the metrics", func() {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
		req.SetBasicAuth("cdse", "secret")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
