package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
)

const webpushTTL = 3600

// subscriptionDocument is the on-disk shape of the subscription registry.
type subscriptionDocument struct {
	Subscriptions []webpush.Subscription `json:"subscriptions"`
}

// WebpushAdapter delivers notifications to browser push subscriptions using
// VAPID. Subscriptions are registered through the HTTP surface and persisted
// next to the other project-local documents so they survive restarts.
type WebpushAdapter struct {
	path       string
	publicKey  string
	privateKey string
	subject    string
	httpClient webpush.HTTPClient
	logger     *slog.Logger

	mu   sync.Mutex
	subs []webpush.Subscription
}

// NewWebpushAdapter creates a web push adapter persisting subscriptions at
// path. subject is the VAPID contact, defaulted when empty.
func NewWebpushAdapter(path, publicKey, privateKey, subject string) *WebpushAdapter {
	if subject == "" {
		subject = "mailto:autopilot@localhost"
	}
	return &WebpushAdapter{
		path:       path,
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
		logger:     slog.Default().With("component", "notify.webpush"),
	}
}

func (a *WebpushAdapter) Name() string { return "webpush" }

// PublicKey returns the VAPID public key browsers subscribe with.
func (a *WebpushAdapter) PublicKey() string { return a.publicKey }

// Init checks the VAPID key pair and loads the persisted subscriptions.
// A missing registry file is fine; the dashboard registers on first use.
func (a *WebpushAdapter) Init(_ context.Context) error {
	if a.publicKey == "" || a.privateKey == "" {
		return errors.New("web push requires a VAPID key pair")
	}

	var doc subscriptionDocument
	if err := fsutil.ReadJSON(a.path, &doc); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load push subscriptions: %w", err)
	}

	a.mu.Lock()
	a.subs = doc.Subscriptions
	a.mu.Unlock()
	a.logger.Info("Loaded push subscriptions", "count", len(doc.Subscriptions))
	return nil
}

// AddSubscription registers a browser subscription and persists the
// registry. Re-registering an endpoint replaces its keys.
func (a *WebpushAdapter) AddSubscription(sub webpush.Subscription) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	replaced := false
	for i := range a.subs {
		if a.subs[i].Endpoint == sub.Endpoint {
			a.subs[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		a.subs = append(a.subs, sub)
	}

	if err := a.persistLocked(); err != nil {
		return err
	}
	a.logger.Info("Push subscription registered", "endpoint", sub.Endpoint, "total", len(a.subs))
	return nil
}

// Notify sends n to every registered subscription. Subscriptions the push
// service reports gone (404/410) are dropped from the registry. An error is
// returned only when every remaining send fails.
func (a *WebpushAdapter) Notify(ctx context.Context, n Notification) error {
	a.mu.Lock()
	subs := make([]webpush.Subscription, len(a.subs))
	copy(subs, a.subs)
	a.mu.Unlock()

	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	opts := &webpush.Options{
		HTTPClient:      a.httpClient,
		Subscriber:      a.subject,
		VAPIDPublicKey:  a.publicKey,
		VAPIDPrivateKey: a.privateKey,
		TTL:             webpushTTL,
		Urgency:         urgencyFor(n.Severity),
	}

	var expired []string
	sent, failed := 0, 0
	for i := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &subs[i], opts)
		if err != nil {
			failed++
			a.logger.Warn("Push send failed", "endpoint", subs[i].Endpoint, "error", err)
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()
		switch {
		case status == http.StatusNotFound || status == http.StatusGone:
			expired = append(expired, subs[i].Endpoint)
		case status >= 200 && status <= 299:
			sent++
		default:
			failed++
			a.logger.Warn("Push service rejected send", "endpoint", subs[i].Endpoint, "status", status)
		}
	}

	if len(expired) > 0 {
		a.removeEndpoints(expired)
	}
	if failed > 0 && sent == 0 {
		return fmt.Errorf("all %d push sends failed", failed)
	}
	return nil
}

func (a *WebpushAdapter) Close(_ context.Context) error { return nil }

func (a *WebpushAdapter) removeEndpoints(endpoints []string) {
	gone := make(map[string]bool, len(endpoints))
	for _, e := range endpoints {
		gone[e] = true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.subs[:0]
	for _, s := range a.subs {
		if !gone[s.Endpoint] {
			kept = append(kept, s)
		}
	}
	a.subs = kept
	if err := a.persistLocked(); err != nil {
		a.logger.Warn("Failed to persist push subscriptions after pruning", "error", err)
	}
	a.logger.Info("Pruned expired push subscriptions", "removed", len(endpoints), "remaining", len(a.subs))
}

func (a *WebpushAdapter) persistLocked() error {
	return fsutil.WriteJSONAtomic(a.path, subscriptionDocument{Subscriptions: a.subs})
}

func urgencyFor(s Severity) webpush.Urgency {
	if s == SeverityCritical {
		return webpush.UrgencyHigh
	}
	return webpush.UrgencyNormal
}
