package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/airbusgeo/cdse-dl/service/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Sink handles a notification. An error is returned to the catalogue as a 500.
type Sink func(ctx context.Context, e Entity) error

// Receiver is the notification endpoint of push subscriptions
type Receiver struct {
	username string
	password string
	sink     Sink
}

// NewReceiver creates a receiver handing the notifications to sink.
// The catalogue must authenticate with username/password (if username is not empty).
func NewReceiver(username, password string, sink Sink) *Receiver {
	return &Receiver{username: username, password: password, sink: sink}
}

// Handler returns the http handler of the receiver:
//   - POST /notifications
//   - GET /health
//   - GET /metrics
func (rc *Receiver) Handler(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/notifications", rc.NotificationHandler).Methods("POST")
	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	r.Use(BasicAuthenticate(rc.username, rc.password))

	logger := zap.NewStdLog(log.Logger(ctx))
	return handlers.RecoveryHandler(handlers.RecoveryLogger(logger))(handlers.CombinedLoggingHandler(logger.Writer(), r))
}

// NotificationHandler decodes a notification and hands it to the sink
func (rc *Receiver) NotificationHandler(w http.ResponseWriter, req *http.Request) {
	requestID := req.Header.Get("X-Request-Id")
	if _, err := uuid.Parse(requestID); err != nil {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)
	ctx := log.With(req.Context(), zap.String("request_id", requestID))
	var e Entity
	if err := json.NewDecoder(req.Body).Decode(&e); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "invalid notification: %v", err)
		return
	}
	if e.ProductId == "" && e.Value == nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "invalid notification: no product")
		return
	}
	metrics.Notifications.WithLabelValues(string(e.SubscriptionEvent)).Inc()
	ctx = log.With(ctx, zap.String("subscription", e.SubscriptionId), zap.String("product", e.Product().Name))
	log.Logger(ctx).Sugar().Infof("notification received: %s", e.SubscriptionEvent)
	if rc.sink != nil {
		if err := rc.sink(ctx, e); err != nil {
			log.Logger(ctx).Sugar().Warnf("notification: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "%v", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// ListenAndServe serves the receiver on addr until ctx is done
func (rc *Receiver) ListenAndServe(ctx context.Context, addr string) error {
	s := http.Server{
		Addr:              addr,
		Handler:           rc.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("Receiver.ListenAndServe: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cncl := context.WithTimeout(context.Background(), 30*time.Second)
	defer cncl()
	return s.Shutdown(sctx)
}
