// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"time"

	"go.mau.fi/util/dbutil"
)

type HookCallQuery struct {
	*dbutil.QueryHelper[*HookCall]
}

// HookCall is an audit row for one accepted request to a hook.
type HookCall struct {
	qh *dbutil.QueryHelper[*HookCall]

	ID        int64
	HookID    int64
	Timestamp time.Time
	Content   string
}

const (
	insertHookCallQuery     = `INSERT INTO hook_call (hook_id, timestamp, content) VALUES ($1, $2, $3) RETURNING id`
	getHookCallsByHookQuery = `SELECT id, hook_id, timestamp, content FROM hook_call WHERE hook_id=$1 ORDER BY id DESC LIMIT $2`
)

func (hcq *HookCallQuery) GetRecent(ctx context.Context, hookID int64, limit int) ([]*HookCall, error) {
	return hcq.QueryMany(ctx, getHookCallsByHookQuery, hookID, limit)
}

// Record stores the body of a request that reached hookID.
func (hcq *HookCallQuery) Record(ctx context.Context, hookID int64, content string) error {
	hc := hcq.New()
	hc.HookID = hookID
	hc.Timestamp = time.Now()
	hc.Content = content
	return hc.Insert(ctx)
}

func (hc *HookCall) Insert(ctx context.Context) error {
	return hc.qh.GetDB().QueryRow(ctx, insertHookCallQuery, hc.HookID, hc.Timestamp.UnixMilli(), hc.Content).Scan(&hc.ID)
}

func (hc *HookCall) Scan(row dbutil.Scannable) (*HookCall, error) {
	var ts int64
	err := row.Scan(&hc.ID, &hc.HookID, &ts, &hc.Content)
	if err != nil {
		return nil, err
	}
	hc.Timestamp = time.UnixMilli(ts)
	return hc, nil
}
