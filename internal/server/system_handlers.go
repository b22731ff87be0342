package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/swap2you/chakraops-sub000/internal/database"
	"github.com/swap2you/chakraops-sub000/internal/heartbeat"
)

// SystemHandlers serves process and database health.
type SystemHandlers struct {
	dataDir   string
	databases map[string]*database.DB
	worker    *heartbeat.Worker
	startedAt time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates the system handler set.
func NewSystemHandlers(dataDir string, databases map[string]*database.DB, worker *heartbeat.Worker, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		dataDir:   dataDir,
		databases: databases,
		worker:    worker,
		startedAt: time.Now(),
		log:       log.With().Str("module", "system_handlers").Logger(),
	}
}

// RegisterRoutes registers the system routes.
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/system/health", h.HandleHealth)
}

// HandleHealth returns process, disk, database and scheduler health in one
// payload for the dashboard.
// GET /api/system/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
		"process":        h.processStats(),
		"databases":      h.databaseStats(),
	}
	if h.worker != nil {
		payload["scheduler"] = h.worker.Health()
	}
	if usage, err := disk.Usage(h.dataDir); err == nil {
		payload["disk"] = map[string]interface{}{
			"path":         h.dataDir,
			"total_bytes":  usage.Total,
			"free_bytes":   usage.Free,
			"used_percent": usage.UsedPercent,
		}
	} else {
		h.log.Warn().Err(err).Str("path", h.dataDir).Msg("Failed to read disk usage")
	}

	writeJSON(w, h.log, payload)
}

// processStats samples CPU over a short window to keep the endpoint fast.
func (h *SystemHandlers) processStats() map[string]interface{} {
	stats := map[string]interface{}{}

	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to read CPU percentage")
	} else {
		stats["cpu_percent"] = cpuPercent[0]
	}

	if memStat, err := mem.VirtualMemory(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read memory statistics")
	} else {
		stats["mem_used_percent"] = memStat.UsedPercent
		stats["mem_available_bytes"] = memStat.Available
	}
	return stats
}

func (h *SystemHandlers) databaseStats() map[string]interface{} {
	out := map[string]interface{}{}
	for name, db := range h.databases {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("db", name).Msg("Failed to read database stats")
			out[name] = map[string]interface{}{"error": "unavailable"}
			continue
		}
		out[name] = map[string]interface{}{
			"size_bytes": stats.SizeBytes,
			"wal_bytes":  stats.WALSizeBytes,
			"page_count": stats.PageCount,
			"free_pages": stats.FreelistCount,
		}
	}
	return out
}
