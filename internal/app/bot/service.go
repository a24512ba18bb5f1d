package bot

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/gorilla/mux"
	"github.com/heptiolabs/healthcheck"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transponster/bot/internal/app/collector"
	"github.com/transponster/bot/internal/app/translate"
	"github.com/transponster/bot/internal/pkg/cmdapp"
	"github.com/transponster/bot/internal/pkg/slack"
)

type serviceMetric struct {
	eventResponseDur  prometheus.ObserverVec
	actionResponseDur prometheus.ObserverVec
}

// EventCollector admits upload events for debounced processing
type EventCollector interface {
	Submit(ev collector.UploadEvent)
}

// ActionHandler runs one pressed transform button
type ActionHandler interface {
	Handle(ctx context.Context, a translate.Action)
}

// ServiceData keeps data required for service work
type ServiceData struct {
	Events        EventCollector
	Actions       ActionHandler
	SigningSecret string
	HomeURL       string
	Port          int

	health  healthcheck.Handler
	metrics serviceMetric
}

// StartWebServer starts the HTTP service and listens for Slack callbacks
func StartWebServer(data *ServiceData) error {
	cmdapp.Log.Infof("Starting HTTP service at %d", data.Port)
	r := NewRouter(data)

	portStr := strconv.Itoa(data.Port)
	srv := http.Server{
		Addr:              ":" + portStr,
		WriteTimeout:      15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		Handler:           r,
	}

	w := cmdapp.Log.Writer()
	defer w.Close()
	l := log.New(w, "", 0)
	gracehttp.SetLogger(l)

	return gracehttp.Serve(&srv)
}

// NewRouter creates the router for HTTP service
func NewRouter(data *ServiceData) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	eh := promhttp.InstrumentHandlerDuration(data.metrics.eventResponseDur, eventsHandler{data: data})
	ah := promhttp.InstrumentHandlerDuration(data.metrics.actionResponseDur, actionsHandler{data: data})
	router.Methods("POST").Path("/slack/events").Handler(eh)
	router.Methods("POST").Path("/slack/actions").Handler(ah)
	router.Methods("GET").Path("/metrics").Handler(promhttp.Handler())
	router.Methods("GET").Path("/live").HandlerFunc(data.health.LiveEndpoint)
	router.Methods("GET").Path("/ready").HandlerFunc(data.health.ReadyEndpoint)
	router.Methods("GET").Path("/").Handler(http.RedirectHandler(data.HomeURL, http.StatusFound))
	return router
}

// readVerified reads the body and checks the request signature
func readVerified(data *ServiceData, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read request body")
	}
	if data.SigningSecret == "" {
		return body, nil
	}
	err = slack.VerifySignature(data.SigningSecret, r.Header.Get("X-Slack-Request-Timestamp"),
		body, r.Header.Get("X-Slack-Signature"))
	if err != nil {
		return nil, err
	}
	return body, nil
}

type eventPayload struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Event     struct {
		Type      string `json:"type"`
		FileID    string `json:"file_id"`
		UserID    string `json:"user_id"`
		ChannelID string `json:"channel_id"`
	} `json:"event"`
}

type eventsHandler struct {
	data *ServiceData
}

// ServeHTTP acknowledges the callback fast and hands the event off -
// slow responses make Slack redeliver
func (h eventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readVerified(h.data, r)
	if err != nil {
		http.Error(w, "Wrong request", http.StatusUnauthorized)
		cmdapp.Log.Error(errors.Wrap(err, "Rejecting events request"))
		return
	}
	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "Can't parse payload", http.StatusBadRequest)
		cmdapp.Log.Error(errors.Wrap(err, "Can't parse events payload"))
		return
	}
	if payload.Type == "url_verification" {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(payload.Challenge))
		return
	}
	if payload.Type == "event_callback" && payload.Event.Type == "file_shared" {
		go h.data.Events.Submit(collector.UploadEvent{
			FileID:    payload.Event.FileID,
			UserID:    payload.Event.UserID,
			ChannelID: payload.Event.ChannelID,
		})
	}
	w.WriteHeader(http.StatusOK)
}

type actionPayload struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Message struct {
		ThreadTS string `json:"thread_ts"`
		TS       string `json:"ts"`
	} `json:"message"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

type actionValue struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	DocID    string `json:"doc_id"`
}

type actionsHandler struct {
	data *ServiceData
}

func (h actionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readVerified(h.data, r)
	if err != nil {
		http.Error(w, "Wrong request", http.StatusUnauthorized)
		cmdapp.Log.Error(errors.Wrap(err, "Rejecting actions request"))
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "Can't parse form", http.StatusBadRequest)
		cmdapp.Log.Error(errors.Wrap(err, "Can't parse actions form"))
		return
	}
	var payload actionPayload
	if err := json.Unmarshal([]byte(form.Get("payload")), &payload); err != nil {
		http.Error(w, "Can't parse payload", http.StatusBadRequest)
		cmdapp.Log.Error(errors.Wrap(err, "Can't parse actions payload"))
		return
	}
	for _, pressed := range payload.Actions {
		var value actionValue
		if err := json.Unmarshal([]byte(pressed.Value), &value); err != nil {
			cmdapp.Log.Error(errors.Wrap(err, "Can't parse action value"))
			continue
		}
		threadTS := payload.Message.ThreadTS
		if threadTS == "" {
			threadTS = payload.Message.TS
		}
		go h.data.Actions.Handle(context.Background(), translate.Action{
			Kind:      pressed.ActionID,
			FileID:    value.FileID,
			FileName:  value.FileName,
			DocID:     value.DocID,
			UserID:    payload.User.ID,
			ChannelID: payload.Channel.ID,
			ThreadTS:  threadTS,
		})
	}
	w.WriteHeader(http.StatusOK)
}
