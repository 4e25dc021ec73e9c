package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/reroute/internal/config"
)

const (
	DefaultMaxBodySize     = 1 << 20
	DefaultSignatureHeader = "X-Hub-Signature-256"
)

// Endpoint is one resolved webhook binding.
type Endpoint struct {
	Name    string
	JobType string
	// Queue overrides the job type's home queue when set.
	Queue           string
	Secret          string
	SignatureHeader string
	MaxBodySize     int64
}

// FromConfig resolves configured webhooks, applying defaults.
func FromConfig(confs []config.WebhookConf) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(confs))
	for _, c := range confs {
		size, err := parseMaxBodySize(c.MaxBodySize)
		if err != nil {
			return nil, fmt.Errorf("webhook %q: invalid max_body_size %q: %w", c.Name, c.MaxBodySize, err)
		}
		header := c.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}
		out = append(out, Endpoint{
			Name:            c.Name,
			JobType:         c.JobType,
			Queue:           c.Queue,
			Secret:          c.Secret,
			SignatureHeader: header,
			MaxBodySize:     size,
		})
	}
	return out, nil
}

// parseMaxBodySize parses "1MB", "64KB" or a plain byte count.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}} {
		if trimmed, ok := strings.CutSuffix(upper, unit.suffix); ok {
			upper, multiplier = trimmed, unit.mult
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
