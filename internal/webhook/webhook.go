package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tekku-taro/lolipop-deploy-tool/internal/config"
	deploy "github.com/tekku-taro/lolipop-deploy-tool/internal/sync"
)

// GitHubPushEvent represents the relevant fields from a GitHub push webhook
type GitHubPushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Deployer deploys apps one after another
type Deployer interface {
	DeployApps(ctx context.Context, names []string, opts deploy.Options) error
}

// Server implements the webhook HTTP server
type Server struct {
	cfg           *config.Config
	deployer      Deployer
	logger        *slog.Logger
	secret        []byte
	apps          []string
	ctx           context.Context
	deployMu      sync.Mutex // guards deployRunning and deployPending
	deployRunning bool       // whether a deployment is currently in progress
	deployPending bool       // whether another deployment is needed after the current one
	debounce      *debouncer
}

// debouncer implements debouncing for webhook events
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a new webhook server deploying cfg.Serve.Apps, or every
// configured app when that list is empty
func NewServer(cfg *config.Config, deployer Deployer, logger *slog.Logger) (*Server, error) {
	// Load webhook secret from file
	secret, err := os.ReadFile(cfg.Serve.GitHubWebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	// Trim any whitespace/newlines from secret
	secret = []byte(strings.TrimSpace(string(secret)))

	apps := cfg.Serve.Apps
	if len(apps) == 0 {
		for _, app := range cfg.Apps {
			apps = append(apps, app.Name)
		}
	}

	s := &Server{
		cfg:      cfg,
		deployer: deployer,
		logger:   logger,
		secret:   secret,
		apps:     apps,
		ctx:      context.Background(),
	}

	// Initialize debouncer with 2 second delay
	s.debounce = &debouncer{
		delay: 2 * time.Second,
	}

	return s, nil
}

// Start performs an initial deployment and then serves webhooks until ctx
// is cancelled. It serves on ln when given, e.g. a socket passed by systemd,
// and listens on the configured address otherwise.
func (s *Server) Start(ctx context.Context, ln net.Listener) error {
	s.ctx = ctx

	s.logger.Info("performing initial deployment before starting webhook server", "apps", s.apps)
	s.performDeploy(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebhook)

	server := &http.Server{
		Addr:              s.cfg.Serve.ListenAddr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		var err error
		if ln != nil {
			s.logger.Info("webhook server starting on activated socket", "addr", ln.Addr().String())
			err = server.Serve(ln)
		} else {
			s.logger.Info("webhook server starting", "addr", s.cfg.Serve.ListenAddr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleWebhook handles incoming GitHub webhook requests
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	// Only accept POST requests
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	signature := r.Header.Get("X-Hub-Signature-256")
	if !s.verifySignature(body, signature) {
		s.logger.Warn("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	s.logger.Info("received webhook", "event", eventType)

	if !s.isEventTypeAllowed(eventType) {
		s.logger.Info("ignoring disallowed event type", "event", eventType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Event type not configured for deployment\n")
		return
	}

	var event GitHubPushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if !s.isRefAllowed(event.Ref) {
		s.logger.Info("ignoring disallowed ref", "ref", event.Ref)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Ref not configured for deployment\n")
		return
	}

	s.logger.Info("webhook accepted",
		"event", eventType,
		"ref", event.Ref,
		"commit", event.After,
		"repo", event.Repository.FullName)

	s.debounce.trigger(func() {
		s.performDeploy(s.ctx)
	})

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Deployment triggered\n")
}

// verifySignature verifies the GitHub webhook signature
func (s *Server) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	// GitHub signature format: sha256=<hex>
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expected))
}

// isEventTypeAllowed checks if the event type is in the allowed list
func (s *Server) isEventTypeAllowed(eventType string) bool {
	return allowed(s.cfg.Serve.AllowedEventTypes, eventType)
}

// isRefAllowed checks if the ref is in the allowed list
func (s *Server) isRefAllowed(ref string) bool {
	return allowed(s.cfg.Serve.AllowedRefs, ref)
}

// allowed reports whether v is in list; an empty list allows everything
func allowed(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// performDeploy deploys the served apps with single-flight semantics.
// If a deployment is already in progress, at most one additional run is
// queued; further concurrent requests are dropped.
func (s *Server) performDeploy(ctx context.Context) {
	s.deployMu.Lock()
	if s.deployRunning {
		s.deployPending = true
		s.deployMu.Unlock()
		s.logger.Info("deployment already in progress, queuing pending re-run")
		return
	}
	s.deployRunning = true
	s.deployMu.Unlock()

	for {
		if err := s.deployer.DeployApps(ctx, s.apps, deploy.Options{}); err != nil {
			s.logger.Error("webhook deployment failed", "error", err)
		} else {
			s.logger.Info("webhook deployment completed successfully")
		}

		// Release the running slot unless another deployment was requested
		// while this one ran; that one request is serviced next.
		s.deployMu.Lock()
		if !s.deployPending {
			s.deployRunning = false
			s.deployMu.Unlock()
			break
		}
		s.deployPending = false
		s.deployMu.Unlock()

		s.logger.Info("re-running deployment due to pending request")
	}
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}
