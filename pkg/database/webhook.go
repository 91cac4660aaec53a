// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"strings"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"

	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

type WebhookQuery struct {
	*dbutil.QueryHelper[*Webhook]
}

type Webhook struct {
	qh *dbutil.QueryHelper[*Webhook]

	webhook.Registration
}

const (
	getWebhookBaseQuery    = `SELECT id, path, user_id, room_id FROM webhook`
	getWebhookByPathQuery  = getWebhookBaseQuery + ` WHERE path=$1`
	getWebhooksByRoomQuery = getWebhookBaseQuery + ` WHERE room_id=$1 ORDER BY id`
	getAllWebhooksQuery    = getWebhookBaseQuery + ` ORDER BY id`
	insertWebhookQuery     = `INSERT INTO webhook (path, user_id, room_id) VALUES ($1, $2, $3) RETURNING id`
	deleteWebhookQuery     = `DELETE FROM webhook WHERE id=$1 AND room_id=$2`
	countWebhooksQuery     = `SELECT COUNT(*) FROM webhook`
)

// GetByPath returns the hook stored under path, or nil. Paths are compared
// in lower case.
func (wq *WebhookQuery) GetByPath(ctx context.Context, path string) (*webhook.Registration, error) {
	wh, err := wq.QueryOne(ctx, getWebhookByPathQuery, strings.ToLower(path))
	if err != nil || wh == nil {
		return nil, err
	}
	return &wh.Registration, nil
}

func (wq *WebhookQuery) GetByRoom(ctx context.Context, roomID id.RoomID) ([]*Webhook, error) {
	return wq.QueryMany(ctx, getWebhooksByRoomQuery, roomID)
}

func (wq *WebhookQuery) GetAll(ctx context.Context) ([]*Webhook, error) {
	return wq.QueryMany(ctx, getAllWebhooksQuery)
}

// DeleteFromRoom removes the hook only if it belongs to roomID.
func (wq *WebhookQuery) DeleteFromRoom(ctx context.Context, hookID int64, roomID id.RoomID) (bool, error) {
	res, err := wq.GetDB().Exec(ctx, deleteWebhookQuery, hookID, roomID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (wq *WebhookQuery) Count(ctx context.Context) (count int, err error) {
	err = wq.GetDB().QueryRow(ctx, countWebhooksQuery).Scan(&count)
	return
}

// Insert stores the registration and fills in its ID. The path is stored in
// lower case.
func (wq *WebhookQuery) Insert(ctx context.Context, reg *webhook.Registration) error {
	reg.Path = strings.ToLower(reg.Path)
	return wq.GetDB().QueryRow(ctx, insertWebhookQuery, reg.Path, reg.UserID, reg.RoomID).Scan(&reg.ID)
}

func (w *Webhook) Scan(row dbutil.Scannable) (*Webhook, error) {
	err := row.Scan(&w.ID, &w.Path, &w.UserID, &w.RoomID)
	if err != nil {
		return nil, err
	}
	return w, nil
}
