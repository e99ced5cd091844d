// Package client is the application-side API surface. Writes that fail for
// lack of connectivity are applied locally and queued for replay; the caller
// sees an optimistic success.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/honeynil/paisa-tracker/internal/interceptor"
	"github.com/honeynil/paisa-tracker/internal/localstore"
	"github.com/honeynil/paisa-tracker/internal/models"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Connectivity interface {
	Online() bool
}

type Enqueuer interface {
	Enqueue(ctx context.Context, path, method string, body any) (*models.PendingOperation, error)
}

type Client struct {
	http    *http.Client
	baseURL string
	repo    *localstore.Repository
	queue   Enqueuer
	conn    Connectivity
	now     func() time.Time
}

func New(httpClient *http.Client, baseURL string, repo *localstore.Repository, queue Enqueuer, conn Connectivity) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		repo:    repo,
		queue:   queue,
		conn:    conn,
		now:     time.Now,
	}
}

type errorPayload struct {
	Error string `json:"error"`
}

// send performs one API call. Transport errors and synthesized offline
// responses both come back wrapped in ErrNetworkUnreachable.
func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrNetworkUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.Header.Get(interceptor.OfflineHeader) != "" {
		return fmt.Errorf("%w: %s", pkgerrors.ErrNetworkUnreachable, interceptor.OfflineMessage)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrNetworkUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		var e errorPayload
		json.Unmarshal(payload, &e)
		return &pkgerrors.ValidationError{Status: resp.StatusCode, Message: e.Error}
	case resp.StatusCode == http.StatusUnauthorized:
		return pkgerrors.ErrUnauthenticated
	case resp.StatusCode == http.StatusNotFound:
		return pkgerrors.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s %s returned %d", pkgerrors.ErrInternal, method, path, resp.StatusCode)
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// mutate sends a write and, when it fails while offline, applies it locally
// and queues it. Failures while online are returned as is.
func (c *Client) mutate(ctx context.Context, method, path string, body, out any, local func(context.Context) error) (queued bool, err error) {
	tracer := otel.Tracer("client")
	ctx, span := tracer.Start(ctx, "Mutate")
	defer span.End()
	span.SetAttributes(attribute.String("method", method), attribute.String("path", path))

	sendErr := c.send(ctx, method, path, body, out)
	if sendErr == nil {
		return false, nil
	}
	if !errors.Is(sendErr, pkgerrors.ErrNetworkUnreachable) {
		span.SetStatus(codes.Error, "request rejected")
		return false, sendErr
	}
	if c.conn.Online() {
		span.RecordError(sendErr)
		slog.Error("request failed while online", "method", method, "path", path, "error", sendErr)
		return false, sendErr
	}

	if local != nil {
		if err := local(ctx); err != nil {
			span.RecordError(err)
			slog.Error("failed to apply offline write locally", "method", method, "path", path, "error", err)
			return false, err
		}
	}
	if _, err := c.queue.Enqueue(ctx, path, method, body); err != nil {
		if errors.Is(err, pkgerrors.ErrQueueOnline) {
			return false, sendErr
		}
		span.RecordError(err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("queued", true))
	return true, nil
}

// CreateTransaction records a transaction. A DueDate on the request also
// creates a reminder to collect from (or pay) the counterparty.
func (c *Client) CreateTransaction(ctx context.Context, req models.CreateTransactionRequest) (*models.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var created models.Transaction
	var local *models.Transaction
	queued, err := c.mutate(ctx, http.MethodPost, "/api/transactions", req, &created, func(ctx context.Context) error {
		local = req.ToTransaction(c.now().UTC())
		return c.repo.AddTransaction(ctx, local)
	})
	if err != nil {
		return nil, err
	}
	result := &created
	if queued {
		result = local
		slog.Info("transaction saved offline", "local_id", local.ID)
	}

	if req.DueDate != nil {
		rem, err := c.CreateReminder(ctx, models.CreateReminderRequest{
			Amount:     req.Amount,
			FromPerson: req.To,
			DueDate:    *req.DueDate,
			Notes:      req.Notes,
		})
		if err != nil {
			slog.Error("failed to create reminder for transaction", "transaction_id", result.ID, "error", err)
			return result, err
		}
		result.ReminderID = &rem.ID
	}
	return result, nil
}

func (c *Client) DeleteTransaction(ctx context.Context, id int64) error {
	path := "/api/transactions/" + strconv.FormatInt(id, 10)
	_, err := c.mutate(ctx, http.MethodDelete, path, nil, nil, func(ctx context.Context) error {
		if err := c.repo.DeleteTransaction(ctx, id); err != nil && !errors.Is(err, pkgerrors.ErrNotFound) {
			return err
		}
		return nil
	})
	return err
}

func (c *Client) CreateReminder(ctx context.Context, req models.CreateReminderRequest) (*models.Reminder, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var created models.Reminder
	var local *models.Reminder
	queued, err := c.mutate(ctx, http.MethodPost, "/api/reminders", req, &created, func(ctx context.Context) error {
		local = req.ToReminder(c.now().UTC())
		return c.repo.AddReminder(ctx, local)
	})
	if err != nil {
		return nil, err
	}
	if queued {
		return local, nil
	}
	return &created, nil
}

func (c *Client) UpdateReminderStatus(ctx context.Context, id int64, req models.UpdateReminderStatusRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	path := "/api/reminders/" + strconv.FormatInt(id, 10)
	_, err := c.mutate(ctx, http.MethodPatch, path, req, nil, func(ctx context.Context) error {
		_, err := c.repo.UpdateReminderStatus(ctx, id, req.Status, req.RescheduledDate)
		if errors.Is(err, pkgerrors.ErrReminderNotFound) {
			// напоминание есть только на сервере
			return nil
		}
		return err
	})
	return err
}

// Transactions reads through the interceptor cache and falls back to the
// local store when neither the network nor the cache can answer.
func (c *Client) Transactions(ctx context.Context) ([]models.Transaction, error) {
	var out []models.Transaction
	err := c.send(ctx, http.MethodGet, "/api/transactions", nil, &out)
	if errors.Is(err, pkgerrors.ErrNetworkUnreachable) {
		slog.Info("serving transactions from local store", "error", err)
		return c.repo.ListTransactions(ctx)
	}
	return out, err
}

func (c *Client) Reminders(ctx context.Context) ([]models.Reminder, error) {
	var out []models.Reminder
	err := c.send(ctx, http.MethodGet, "/api/reminders", nil, &out)
	if errors.Is(err, pkgerrors.ErrNetworkUnreachable) {
		slog.Info("serving reminders from local store", "error", err)
		return c.repo.ListReminders(ctx)
	}
	return out, err
}

// RemindersByStatus filters Reminders, so due-date checks see the server's
// reminders online and the local ones offline.
func (c *Client) RemindersByStatus(ctx context.Context, status models.ReminderStatus) ([]models.Reminder, error) {
	all, err := c.Reminders(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Reminder
	for _, r := range all {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// CurrentUser refreshes the cached user slot from the server and falls back
// to the slot when offline.
func (c *Client) CurrentUser(ctx context.Context) (models.CachedUser, error) {
	var u models.User
	err := c.send(ctx, http.MethodGet, "/api/user", nil, &u)
	switch {
	case err == nil:
		if err := c.repo.SaveUser(ctx, &u); err != nil {
			slog.Error("failed to cache current user", "user_id", u.ID, "error", err)
		}
		return models.NewCachedUser(&u), nil
	case errors.Is(err, pkgerrors.ErrUnauthenticated):
		if err := c.repo.SaveUser(ctx, nil); err != nil {
			slog.Error("failed to clear cached user", "error", err)
		}
		return models.NewCachedUser(nil), nil
	case errors.Is(err, pkgerrors.ErrNetworkUnreachable):
		return c.repo.CurrentUser(ctx)
	}
	return models.CachedUser{}, err
}
