// Package webhook serves the inbound HTTP surface: GitHub webhook
// deliveries that enqueue single-issue work, and a health endpoint
// reporting the agent heartbeat.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// maxBodyBytes bounds webhook payload reads.
const maxBodyBytes = 1 << 20

// signatureHeader carries GitHub's HMAC signature ("sha256=<hex>").
const signatureHeader = "X-Hub-Signature-256"

// HealthReport is the healthz response body.
type HealthReport struct {
	Status        string    `json:"status"`
	LastActiveAt  time.Time `json:"last_active_at"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitempty"`
	TasksInFlight int       `json:"tasks_in_flight"`
	CyclesRun     int       `json:"cycles_run"`
}

// Config holds the server's wiring.
type Config struct {
	// Secret is the shared webhook secret. When empty, every delivery is
	// accepted and a warning is printed at startup.
	Secret string

	// TriggerLabel is the label whose application enqueues work.
	TriggerLabel string

	// OnLabeled is invoked with the issue number for each accepted
	// trigger-label delivery. It must be quick; slow work belongs to the
	// caller's queue.
	OnLabeled func(issueNumber int)

	// Health produces the healthz report.
	Health func() HealthReport
}

// Server handles webhook and health requests.
type Server struct {
	config Config
}

// NewServer creates the HTTP handler set.
func NewServer(cfg Config) (*Server, error) {
	if cfg.TriggerLabel == "" {
		return nil, fmt.Errorf("TriggerLabel cannot be empty")
	}
	if cfg.OnLabeled == nil {
		return nil, fmt.Errorf("OnLabeled cannot be nil")
	}
	if cfg.Secret == "" {
		fmt.Fprintf(os.Stderr, "warning: no webhook secret configured, accepting all deliveries\n")
	}
	return &Server{config: cfg}, nil
}

// Routes returns the mux serving /webhook and /healthz.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// issuePayload is the subset of GitHub's issues event payload we read.
type issuePayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int `json:"number"`
	} `json:"issue"`
	Label struct {
		Name string `json:"name"`
	} `json:"label"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !s.verifySignature(body, r.Header.Get(signatureHeader)) {
		http.Error(w, "signature mismatch", http.StatusUnauthorized)
		return
	}

	var payload issuePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	// Only a trigger-label application enqueues work; every other event is
	// acknowledged and dropped.
	if payload.Action != "labeled" || payload.Label.Name != s.config.TriggerLabel {
		w.WriteHeader(http.StatusOK)
		return
	}

	fmt.Printf("Webhook: issue #%d labeled %q\n", payload.Issue.Number, payload.Label.Name)
	s.config.OnLabeled(payload.Issue.Number)
	w.WriteHeader(http.StatusAccepted)
}

// verifySignature checks the HMAC-SHA256 signature over the raw body with
// a constant-time compare. With no secret configured every delivery
// passes.
func (s *Server) verifySignature(body []byte, header string) bool {
	if s.config.Secret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.config.Secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{Status: "ok"}
	if s.config.Health != nil {
		report = s.config.Health()
		if report.Status == "" {
			report.Status = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write health response: %v\n", err)
	}
}
