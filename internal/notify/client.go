// Package notify предоставляет клиент для внешнего сервиса уведомлений.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// EventType описывает вид уведомления.
type EventType string

const (
	// EventReservationReady отправляется первому в очереди, когда экземпляр вернули на полку.
	EventReservationReady EventType = "reservation_ready"
	// EventLoanOverdue отправляется, когда выдача становится просроченной.
	EventLoanOverdue EventType = "loan_overdue"
)

// Event описывает одно уведомление для читателя.
type Event struct {
	Type          EventType  `json:"type"`
	MemberID      int64      `json:"member_id"`
	Email         string     `json:"email,omitempty"`
	BookID        int64      `json:"book_id"`
	BookTitle     string     `json:"book_title,omitempty"`
	LoanID        int64      `json:"loan_id,omitempty"`
	ReservationID int64      `json:"reservation_id,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient создаёт HTTP-клиент для обращения к сервису уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 1 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

// Notify отправляет событие; сервис отвечает 202 или 200.
func (c *Client) Notify(ctx context.Context, e Event) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/api/notifications", body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
