/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pinchyhq/pinchy/internal/hub"
	"github.com/pinchyhq/pinchy/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is CORS-open; the WebSocket endpoints follow suit
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeGlobalWS handles GET /api/v1/ws
func (h *Handlers) ServeGlobalWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(err, "websocket upgrade failed")
		return
	}

	metrics.WebsocketClients.Inc()
	defer metrics.WebsocketClients.Dec()

	h.hub.Serve(conn, hub.GlobalRoom, nil)
}

// ServeTaskLogWS handles GET /api/v1/logs/ws/{taskID}. Clients joining
// mid-run get the cached output replayed before live lines.
func (h *Handlers) ServeTaskLogWS(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil || taskID <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "task id must be a positive integer")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(err, "websocket upgrade failed", "taskID", taskID)
		return
	}

	metrics.WebsocketClients.Inc()
	defer metrics.WebsocketClients.Dec()

	h.hub.Serve(conn, hub.TaskRoom(taskID), func(c *hub.Client) {
		entry := h.cache.Get(taskID)
		if entry == nil {
			return
		}
		for _, line := range entry.OutputLines {
			c.Send(hub.NewTaskOutput(taskID, entry.LogID, line, "stdout"))
		}
		for _, line := range entry.ErrorLines {
			c.Send(hub.NewTaskOutput(taskID, entry.LogID, line, "stderr"))
		}
	})
}
