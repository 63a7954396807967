package main

import (
	"github.com/hairizuanbinnoorazman/screenshot-explorer/agent"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/device"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

// PaginatedResponse matches handlers.PaginatedResponse.
type PaginatedResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ErrorResponse matches handlers.ErrorResponse.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateExplorationRequest matches handlers.CreateExplorationRequest.
type CreateExplorationRequest struct {
	agent.JobConfig
	RequestedBy string `json:"requested_by"`
}

// PoolStatus matches handlers.PoolStatus.
type PoolStatus struct {
	Platform hierarchy.Platform `json:"platform"`
	Stats    device.Stats       `json:"stats"`
	Devices  []device.Device    `json:"devices"`
}
