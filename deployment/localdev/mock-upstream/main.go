// Command mock-upstream is a local stand-in for the incident pipeline: a
// websocket event feed that plays a canned investigation, plus the history
// REST endpoint the sync engine backfills from.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const projectID = "demo"

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wireLog struct {
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Source    string `json:"source,omitempty"`
}

func main() {
	logger := log.New(log.Writer(), "mock-upstream ", log.LstdFlags|log.Lmicroseconds)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/history/logs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		base := time.Now().Add(-10 * time.Minute)
		entries := make([]wireLog, 0, 20)
		for i := 0; i < 20; i++ {
			level := "info"
			msg := fmt.Sprintf("checkout request served in %dms", 40+i*3)
			if i > 14 {
				level = "error"
				msg = "payments connection pool exhausted"
			}
			entries = append(entries, wireLog{
				ID:        fmt.Sprintf("hist-%d", i),
				Timestamp: base.Add(time.Duration(i) * 20 * time.Second).Format(time.RFC3339),
				Level:     level,
				Message:   msg,
				Source:    "checkout",
			})
		}
		writeJSON(w, map[string]any{"entries": entries})
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("upgrade failed: %v", err)
			return
		}
		logger.Printf("client connected: %s", r.RemoteAddr)
		session := &feed{conn: conn, logger: logger}
		go session.playScenario()
		session.readIntents()
		logger.Printf("client gone: %s", r.RemoteAddr)
	})

	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

type feed struct {
	conn   *websocket.Conn
	logger *log.Logger

	// writeMu serializes frames from the scenario and intent goroutines.
	writeMu sync.Mutex
}

func (f *feed) send(kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		f.logger.Printf("marshal %s: %v", kind, err)
		return
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := f.conn.WriteJSON(envelope{Type: kind, Payload: data}); err != nil {
		f.logger.Printf("write %s: %v", kind, err)
	}
}

// playScenario emits a full canned investigation with realistic pacing.
func (f *feed) playScenario() {
	now := time.Now().UTC()
	f.send("incident:detected", map[string]any{
		"project_id": projectID,
		"incident": map[string]any{
			"id":                "inc-demo-1",
			"title":             "Checkout error rate above 5%",
			"description":       "Payments calls from checkout are timing out.",
			"severity":          "critical",
			"status":            "detecting",
			"started_at":        now,
			"affected_services": []string{"checkout", "payments"},
		},
	})

	steps := []struct {
		delay  time.Duration
		status string
		phase  string
		title  string
	}{
		{2 * time.Second, "analyzing", "log_analysis", "Scanning error logs"},
		{3 * time.Second, "researching", "research", "Correlating recent deploys"},
		{3 * time.Second, "diagnosing", "diagnosis", "Isolating root cause"},
		{3 * time.Second, "proposing", "solution_generation", "Drafting remediation"},
	}
	for i, step := range steps {
		time.Sleep(step.delay)
		f.send("status:change", map[string]any{
			"project_id": projectID,
			"status":     step.status,
		})
		f.send("agent:update", map[string]any{
			"project_id": projectID,
			"phase":      step.phase,
		})
		f.send("timeline:add", map[string]any{
			"project_id": projectID,
			"entry": map[string]any{
				"id":        fmt.Sprintf("step-%d", i),
				"timestamp": time.Now().UTC(),
				"phase":     step.phase,
				"title":     step.title,
				"status":    "in_progress",
			},
		})
		f.send("logs:stream", map[string]any{
			"project_id": projectID,
			"logs": []map[string]any{
				{
					"id":        fmt.Sprintf("live-%d", i),
					"timestamp": time.Now().UTC(),
					"level":     "error",
					"message":   "payments pool exhausted, queue depth rising",
					"source":    "checkout",
				},
			},
		})
		f.send("metrics:update", map[string]any{
			"project_id": projectID,
			"metrics": map[string]any{
				"cpu_percent":        62.0 + float64(i)*6,
				"memory_percent":     71.5,
				"error_rate_percent": 5.2 + float64(i),
				"request_rate":       240.0,
				"latency_ms":         900 + i*150,
			},
		})
	}

	time.Sleep(2 * time.Second)
	f.send("solution:proposed", map[string]any{
		"project_id": projectID,
		"root_cause": "payments connection pool sized for half the current traffic",
		"solution": map[string]any{
			"id":         "sol-demo-1",
			"summary":    "Double the payments connection pool and roll the deployment",
			"details":    "Set PAYMENTS_POOL_SIZE=64 in the checkout deployment and restart.",
			"created_at": time.Now().UTC(),
		},
	})
	f.send("chat:message", map[string]any{
		"message": map[string]any{
			"id":        "agent-msg-1",
			"role":      "agent",
			"content":   "Root cause isolated. I propose doubling the payments connection pool.",
			"timestamp": time.Now().UTC(),
		},
	})
}

// readIntents answers dashboard intents until the connection drops.
func (f *feed) readIntents() {
	for {
		var env envelope
		if err := f.conn.ReadJSON(&env); err != nil {
			return
		}
		f.logger.Printf("intent: %s", env.Type)
		switch env.Type {
		case "incident:trigger":
			go f.playScenario()
		case "solution:execute":
			f.send("status:change", map[string]any{"project_id": projectID, "status": "executing"})
			go func() {
				time.Sleep(3 * time.Second)
				f.send("status:change", map[string]any{"project_id": projectID, "status": "resolved"})
			}()
		case "chat:message":
			// Echo the user's message back so its delivery confirms, then reply.
			var p struct {
				Message json.RawMessage `json:"message"`
			}
			if err := json.Unmarshal(env.Payload, &p); err == nil {
				f.send("chat:message", map[string]any{"message": json.RawMessage(p.Message)})
			}
			f.send("chat:message", map[string]any{
				"message": map[string]any{
					"id":        fmt.Sprintf("agent-reply-%d", time.Now().UnixNano()),
					"role":      "agent",
					"content":   "Understood. Continuing the investigation.",
					"timestamp": time.Now().UTC(),
				},
			})
		case "agent:stop":
			f.send("status:change", map[string]any{"project_id": projectID, "status": "failed"})
		}
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return hijacker.Hijack()
}
