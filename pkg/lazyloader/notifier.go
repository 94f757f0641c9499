package lazyloader

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

// LoadNotifier is told about successful unit activations.
type LoadNotifier interface {
	NotifyLoaded(ctx context.Context, agentName string, loadTime time.Duration)
}

// ObservabilityNotifier POSTs activation records to the observability
// sink. Delivery is best-effort: failures are logged, never propagated.
type ObservabilityNotifier struct {
	url        string
	loaderName string
	client     *http.Client
	logger     logging.Logger
}

func NewObservabilityNotifier(url, loaderName string, logger logging.Logger) *ObservabilityNotifier {
	return &ObservabilityNotifier{
		url:        url,
		loaderName: loaderName,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

type activationRecord struct {
	AgentName string  `json:"agent_name"`
	Timestamp string  `json:"timestamp"`
	Loader    string  `json:"loader"`
	LoadTime  float64 `json:"load_time"`
}

func (n *ObservabilityNotifier) NotifyLoaded(ctx context.Context, agentName string, loadTime time.Duration) {
	record := activationRecord{
		AgentName: agentName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Loader:    n.loaderName,
		LoadTime:  loadTime.Seconds(),
	}

	body, err := json.Marshal(record)
	if err != nil {
		n.logger.Warnf("Failed to encode activation record, id: %s, error: %v", agentName, err)
		return
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warnf("Failed to build activation notification, id: %s, error: %v", agentName, err)
		return
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := n.client.Do(request)
	if err != nil {
		n.logger.Warnf("Failed to deliver activation notification, id: %s, error: %v", agentName, err)
		return
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		n.logger.Warnf("Observability sink rejected activation notification, id: %s, status: %d", agentName, response.StatusCode)
	}
}
