// Package directory resolves participant identifiers to display projections
// via the external personnel directory. The engine only reads from it; an
// unknown or unreachable participant degrades to a placeholder projection and
// never fails a roster query.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/drillhub/training-registry/internal/model"
)

// Directory looks up the display projection for one participant.
type Directory interface {
	Lookup(ctx context.Context, participantID string) (model.Participant, error)
}

// Placeholder is the projection used when a participant is unknown or the
// directory is unavailable.
func Placeholder(participantID string) model.Participant {
	return model.Participant{ID: participantID, FullName: "Unknown participant"}
}

// HTTPDirectory queries a personnel directory service over HTTP.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory constructs an HTTPDirectory against baseURL.
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Lookup fetches GET {base}/personnel/{id}. A 404 or malformed body is an
// error; callers decide whether to substitute the placeholder.
func (d *HTTPDirectory) Lookup(ctx context.Context, participantID string) (model.Participant, error) {
	u := fmt.Sprintf("%s/personnel/%s", d.baseURL, url.PathEscape(participantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Participant{}, fmt.Errorf("build directory request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return model.Participant{}, fmt.Errorf("directory lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Participant{}, fmt.Errorf("directory lookup: unexpected status %d", resp.StatusCode)
	}
	var p model.Participant
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return model.Participant{}, fmt.Errorf("decode directory response: %w", err)
	}
	if p.ID == "" {
		p.ID = participantID
	}
	return p, nil
}

// StaticDirectory serves projections from a fixed map. Used in tests and in
// deployments without a personnel directory.
type StaticDirectory struct {
	participants map[string]model.Participant
}

// NewStaticDirectory constructs a StaticDirectory over the given projections.
func NewStaticDirectory(participants map[string]model.Participant) *StaticDirectory {
	cp := make(map[string]model.Participant, len(participants))
	for id, p := range participants {
		cp[id] = p
	}
	return &StaticDirectory{participants: cp}
}

// Lookup returns the mapped projection or an error when unknown.
func (d *StaticDirectory) Lookup(_ context.Context, participantID string) (model.Participant, error) {
	p, ok := d.participants[participantID]
	if !ok {
		return model.Participant{}, fmt.Errorf("participant %s not in directory", participantID)
	}
	return p, nil
}
