package types

type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "UP"
	HealthStatusDown     HealthStatus = "DOWN"
	HealthStatusDegraded HealthStatus = "DEGRADED"
)

// Component names reported by the review service.
const (
	ComponentRedis         = "redis"
	ComponentSessions      = "sessions"
	ComponentLearningQueue = "learning_queue"
)

// HealthUsage is the fill level of a bounded resource.
type HealthUsage struct {
	InUse    int `json:"inUse"`
	Capacity int `json:"capacity"`
}

type HealthComponent struct {
	Status  HealthStatus `json:"status"`
	Details string       `json:"details,omitempty"`
	Usage   *HealthUsage `json:"usage,omitempty"`
}

type HealthCheck struct {
	Service    string                     `json:"service"`
	Status     HealthStatus               `json:"status"`
	Components map[string]HealthComponent `json:"components"`
	Version    string                     `json:"version"`
	Timestamp  string                     `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
}

// AcceptsSessions reports whether a new review session could be opened.
func (h HealthCheck) AcceptsSessions() bool {
	if h.Status == HealthStatusDown {
		return false
	}
	c, ok := h.Components[ComponentSessions]
	return !ok || c.Status != HealthStatusDown
}
