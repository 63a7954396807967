package handlers

import (
	"net/http"
	"sort"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/device"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
)

// PoolStatus is one platform's pool as the API reports it.
type PoolStatus struct {
	Platform hierarchy.Platform `json:"platform"`
	Stats    device.Stats       `json:"stats"`
	Devices  []device.Device    `json:"devices"`
}

// DeviceHandler reports device pool state.
type DeviceHandler struct {
	pools map[hierarchy.Platform]*device.Pool
}

func NewDeviceHandler(pools map[hierarchy.Platform]*device.Pool) *DeviceHandler {
	return &DeviceHandler{pools: pools}
}

// List returns every pool ordered by platform.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	out := make([]PoolStatus, 0, len(h.pools))
	for platform, pool := range h.pools {
		out = append(out, PoolStatus{
			Platform: platform,
			Stats:    pool.Stats(),
			Devices:  pool.Devices(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	respondJSON(w, http.StatusOK, out)
}
