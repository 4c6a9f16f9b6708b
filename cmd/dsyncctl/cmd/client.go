package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// statusResponse mirrors internal/statusapi's wire JSON. Kept as a
// separate type rather than importing statusapi directly: dsyncctl is
// a client of the HTTP contract, not of the daemon's internals.
type statusResponse struct {
	State     string `json:"state"`
	Failed    bool   `json:"failed"`
	Done      bool   `json:"done"`
	SyncType  string `json:"sync_type,omitempty"`
	HasBrain  bool   `json:"has_brain"`
	Scheduled bool   `json:"scheduled"`
	Running   bool   `json:"running,omitempty"`
	LastRun   string `json:"last_run,omitempty"`
	NextRun   string `json:"next_run,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func fetchStatus(baseURL string) (*statusResponse, error) {
	httpClt := http.Client{Timeout: 5 * time.Second}

	resp, err := httpClt.Get(baseURL + "/status")
	if err != nil {
		return nil, fmt.Errorf("requesting status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var result statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}

	return &result, nil
}
