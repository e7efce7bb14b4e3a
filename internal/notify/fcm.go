// README: FCM HTTP push client.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"hail/internal/types"
)

type FCMClient struct {
	endpoint string
	key      string
	client   *http.Client
}

func NewFCMClient(endpoint, key string) *FCMClient {
	return &FCMClient{endpoint: endpoint, key: key, client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMClient) Push(ctx context.Context, userID types.ID, msg Message) error {
	body := map[string]any{
		"message": map[string]any{
			"token": string(userID),
			"data":  map[string]any{"kind": msg.Kind, "payload": msg.Payload},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.key != "" {
		req.Header.Set("Authorization", "Bearer "+f.key)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm push: unexpected status %d", resp.StatusCode)
	}
	return nil
}
