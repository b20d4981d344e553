package subscriptions_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/airbusgeo/cdse-dl/interface/auth/authtest"
	"github.com/airbusgeo/cdse-dl/interface/catalog/odata"
	"github.com/airbusgeo/cdse-dl/interface/subscriptions"
	"github.com/airbusgeo/cdse-dl/service"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type request struct {
	Method, Path, Query, Auth string
	Body                      map[string]interface{}
}

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		identity *authtest.Identity
		api      *httptest.Server
		client   *subscriptions.Client
		mu       sync.Mutex
		requests []request
		answer   string
		status   int
	)

	last := func() request {
		mu.Lock()
		defer mu.Unlock()
		return requests[len(requests)-1]
	}

	BeforeEach(func() {
		ctx = context.Background()
		requests, answer, status = nil, `{}`, http.StatusOK
		identity = authtest.NewIdentity("user", "pwd")
		api = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Auth: r.Header.Get("Authorization")}
			if b, _ := io.ReadAll(r.Body); len(b) > 0 {
				json.Unmarshal(b, &req.Body)
			}
			mu.Lock()
			requests = append(requests, req)
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, answer)
		}))
		session, err := identity.NewSession(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		client = subscriptions.NewClient(session, api.URL+"/odata/v1/Subscriptions")
	})

	AfterEach(func() {
		api.Close()
		identity.Close()
	})

	It("should create a push subscription", func() {
		answer = `{"Id":"sub-1","Status":"running","FilterParam":"Collection/Name eq 'SENTINEL-2'","SubscriptionEvent":["created"]}`
		info, err := client.Create(ctx, subscriptions.TypePush, odata.Eq("Collection/Name", "SENTINEL-2"),
			[]subscriptions.Event{subscriptions.EventCreated}, &subscriptions.Endpoint{URL: "https://example.com/notifications", Username: "u", Password: "p"})
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Id).To(Equal("sub-1"))
		Expect(info.Status).To(Equal(subscriptions.StatusRunning))

		req := last()
		Expect(req.Method).To(Equal(http.MethodPost))
		Expect(req.Path).To(Equal("/odata/v1/Subscriptions"))
		Expect(req.Auth).To(HavePrefix("Bearer "))
		Expect(req.Body).To(HaveKeyWithValue("FilterParam", "Collection/Name eq 'SENTINEL-2'"))
		Expect(req.Body).To(HaveKeyWithValue("NotificationEndpoint", "https://example.com/notifications"))
		Expect(req.Body).To(HaveKeyWithValue("NotificationEpUsername", "u"))
		Expect(req.Body).To(HaveKeyWithValue("NotificationEpPassword", "p"))
		Expect(req.Body).To(HaveKey("SubscriptionEvent"))
	})

	It("should reject a push subscription without endpoint", func() {
		_, err := client.Create(ctx, subscriptions.TypePush, odata.Filter{}, nil, nil)
		var cerr *service.ConfigError
		Expect(errors.As(err, &cerr)).To(BeTrue())
	})

	It("should create a pull subscription without filter", func() {
		_, err := client.Create(ctx, subscriptions.TypePull, odata.Filter{}, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(last().Body).NotTo(HaveKey("FilterParam"))
		Expect(last().Body).NotTo(HaveKey("NotificationEndpoint"))
	})

	It("should update a subscription", func() {
		answer = `{"Id":"sub-1","Status":"paused"}`
		info, err := client.Update(ctx, "sub-1", subscriptions.StatusPaused, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Status).To(Equal(subscriptions.StatusPaused))
		Expect(last().Method).To(Equal(http.MethodPatch))
		Expect(last().Path).To(Equal("/odata/v1/Subscriptions(sub-1)"))
		Expect(last().Body).To(Equal(map[string]interface{}{"Status": "paused"}))
	})

	It("should delete a subscription", func() {
		answer = ``
		Expect(client.Delete(ctx, "sub-1")).To(Succeed())
		Expect(last().Method).To(Equal(http.MethodDelete))
		Expect(last().Path).To(Equal("/odata/v1/Subscriptions(sub-1)"))
	})

	It("should list and get subscriptions", func() {
		answer = `[{"Id":"sub-1"},{"Id":"sub-2"}]`
		infos, err := client.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(infos).To(HaveLen(2))
		Expect(last().Path).To(Equal("/odata/v1/Subscriptions/Info"))

		answer = `{"Id":"sub-2","NotificationEndpoint":"https://example.com"}`
		info, err := client.Info(ctx, "sub-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(info.NotificationEndpoint).To(Equal("https://example.com"))
	})

	It("should read and ack notifications", func() {
		answer = `[{"SubscriptionEvent":"created","ProductId":"p-1","ProductName":"S2A.SAFE","SubscriptionId":"sub-1","NotificationDate":"2024-01-01T00:00:00Z","AckId":"ack-1"}]`
		entities, err := client.Read(ctx, "sub-1", 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(entities).To(HaveLen(1))
		Expect(entities[0].Product().Name).To(Equal("S2A.SAFE"))
		Expect(last().Path).To(Equal("/odata/v1/Subscriptions(sub-1)/Read"))
		Expect(last().Query).To(Equal("$top=5"))

		answer = `{"AckMessagesNum":1,"CurrentQueueLength":0,"MaxQueueLength":100000}`
		ack, err := client.Ack(ctx, "sub-1", entities[0].AckId)
		Expect(err).NotTo(HaveOccurred())
		Expect(ack.AckMessagesNum).To(Equal(1))
		Expect(last().Method).To(Equal(http.MethodPost))
		Expect(last().Query).To(Equal("$ackid=ack-1"))

		_, err = client.Read(ctx, "sub-1", 21)
		Expect(err).To(HaveOccurred())
	})

	It("should return an HTTPError", func() {
		status, answer = http.StatusNotFound, `{"detail":{"message":"Subscription not found","request_id":"r"}}`
		_, err := client.Info(ctx, "unknown")
		var herr *service.HTTPError
		Expect(errors.As(err, &herr)).To(BeTrue())
		Expect(herr.StatusCode).To(Equal(http.StatusNotFound))
	})
})
