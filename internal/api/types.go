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

import "github.com/pinchyhq/pinchy/internal/store"

// ErrorResponse is the error envelope for all API errors
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// StatsResponse summarizes execution history and live state
type StatsResponse struct {
	RunningTaskIDs   []int64        `json:"runningTaskIds"`
	WebsocketClients int            `json:"websocketClients"`
	Logs             store.LogStats `json:"logs"`
}

// ListResponse wraps a paginated collection
type ListResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

// RunResponse acknowledges an immediate run request
type RunResponse struct {
	Started bool `json:"started"`
}

// StopResponse reports the outcome of a stop request
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// ConfigEntryResponse is one system config key/value pair
type ConfigEntryResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GroupsResponse lists known task group names
type GroupsResponse struct {
	Groups []string `json:"groups"`
}
