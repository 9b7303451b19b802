// Websocket print monitoring via Moonraker's JSON-RPC endpoint.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package moonraker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"gcodepost/pkg/errors"
	"gcodepost/pkg/log"
)

// PrintStatus is the merged print_stats/virtual_sdcard view of a print.
type PrintStatus struct {
	State    string  // standby, printing, paused, complete, error, cancelled
	Filename string
	Progress float64 // 0..1
	Duration float64 // seconds of print time
	Message  string
}

// Terminal reports whether the print reached a final state.
func (s PrintStatus) Terminal() bool {
	switch s.State {
	case "complete", "error", "cancelled":
		return true
	}
	return false
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int64           `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Monitor subscribes to print status over the websocket and forwards
// each change to updates until the print reaches a terminal state or
// the context ends. The final status is returned either way.
func (c *Client) Monitor(ctx context.Context, updates chan<- PrintStatus) (PrintStatus, error) {
	var status PrintStatus

	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/websocket"

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-Api-Key", c.apiKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		return status, errors.MoonrakerError("connect", err)
	}
	defer conn.Close()

	// The read loop blocks in ReadJSON; closing the connection on
	// context end unblocks it.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	sub := map[string]any{
		"jsonrpc": "2.0",
		"method":  "printer.objects.subscribe",
		"params": map[string]any{
			"objects": map[string]any{
				"print_stats":    nil,
				"virtual_sdcard": nil,
				"display_status": nil,
			},
		},
		"id": 1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return status, errors.MoonrakerError("subscribe", err)
	}

	for {
		var env rpcEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return status, errors.Wrap(ctx.Err(), errors.ErrMoonraker, "monitor aborted")
			}
			return status, errors.MoonrakerError("read", err)
		}

		switch {
		case env.Error != nil:
			return status, errors.MoonrakerError("subscribe",
				fmt.Errorf("%d: %s", env.Error.Code, env.Error.Message))

		case env.ID == 1 && env.Result != nil:
			// Subscription response carries the initial snapshot.
			var result struct {
				Status map[string]json.RawMessage `json:"status"`
			}
			if err := json.Unmarshal(env.Result, &result); err == nil {
				status.apply(result.Status)
			}

		case env.Method == "notify_status_update":
			var params []json.RawMessage
			if err := json.Unmarshal(env.Params, &params); err != nil || len(params) == 0 {
				continue
			}
			var changed map[string]json.RawMessage
			if err := json.Unmarshal(params[0], &changed); err != nil {
				continue
			}
			status.apply(changed)

		case env.Method == "notify_klippy_shutdown":
			status.State = "error"
			status.Message = "klippy shutdown"

		default:
			continue
		}

		if updates != nil {
			select {
			case updates <- status:
			case <-ctx.Done():
				return status, errors.Wrap(ctx.Err(), errors.ErrMoonraker, "monitor aborted")
			}
		}
		if status.Terminal() {
			log.Debug("print %s finished: %s", status.Filename, status.State)
			return status, nil
		}
	}
}

// apply merges a Moonraker status object map into the view.
func (s *PrintStatus) apply(objects map[string]json.RawMessage) {
	if raw, ok := objects["print_stats"]; ok {
		var ps struct {
			State    *string  `json:"state"`
			Filename *string  `json:"filename"`
			Duration *float64 `json:"print_duration"`
			Message  *string  `json:"message"`
		}
		if err := json.Unmarshal(raw, &ps); err == nil {
			if ps.State != nil {
				s.State = *ps.State
			}
			if ps.Filename != nil {
				s.Filename = *ps.Filename
			}
			if ps.Duration != nil {
				s.Duration = *ps.Duration
			}
			if ps.Message != nil {
				s.Message = *ps.Message
			}
		}
	}
	if raw, ok := objects["virtual_sdcard"]; ok {
		var vs struct {
			Progress *float64 `json:"progress"`
		}
		if err := json.Unmarshal(raw, &vs); err == nil && vs.Progress != nil {
			s.Progress = *vs.Progress
		}
	}
}
