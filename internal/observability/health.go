package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker backs /healthz and /readyz. The service is ready once it is
// marked serving and every required startup condition (recovery, writer
// lease, command consumers) has been satisfied.
type HealthChecker struct {
	mu         sync.RWMutex
	serving    bool
	conditions map[string]bool
	startTime  time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		conditions: make(map[string]bool),
		startTime:  time.Now(),
	}
}

// Require registers a condition that must be satisfied before readiness.
func (h *HealthChecker) Require(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conditions[name]; !ok {
		h.conditions[name] = false
	}
}

// Satisfy sets a condition; an unregistered name is registered.
func (h *HealthChecker) Satisfy(name string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conditions[name] = ok
}

func (h *HealthChecker) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serving = ready
}

func (h *HealthChecker) IsReady() bool {
	ready, _ := h.readiness()
	return ready
}

// readiness returns the verdict and the unmet conditions, sorted.
func (h *HealthChecker) readiness() (bool, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var waiting []string
	for name, ok := range h.conditions {
		if !ok {
			waiting = append(waiting, name)
		}
	}
	sort.Strings(waiting)
	if !h.serving {
		waiting = append([]string{"serving"}, waiting...)
	}
	return len(waiting) == 0, waiting
}

func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, http.StatusOK, map[string]any{
		"status":   "alive",
		"uptime_s": int64(time.Since(h.startTime).Seconds()),
	})
}

// ReadinessHandler answers 503 with the unmet conditions until ready.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready, waiting := h.readiness()
	if ready {
		writeProbe(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	writeProbe(w, http.StatusServiceUnavailable, map[string]any{
		"status":  "not_ready",
		"waiting": waiting,
	})
}

func writeProbe(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
