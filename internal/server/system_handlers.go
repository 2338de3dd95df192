package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"paperbot/internal/database"
	"paperbot/internal/modules/history"
)

// SystemHandlers serves host and storage health
type SystemHandlers struct {
	log       zerolog.Logger
	journalDB *database.DB
	bars      *history.Store
	startedAt time.Time
}

// NewSystemHandlers creates the system health handlers
func NewSystemHandlers(journalDB *database.DB, bars *history.Store, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("component", "system_api").Logger(),
		journalDB: journalDB,
		bars:      bars,
		startedAt: time.Now(),
	}
}

type databaseHealth struct {
	SizeBytes    int64 `json:"size_bytes"`
	WALSizeBytes int64 `json:"wal_size_bytes"`
}

type systemHealth struct {
	Status        string                    `json:"status"`
	UptimeSeconds float64                   `json:"uptime_seconds"`
	CPUPercent    float64                   `json:"cpu_percent"`
	MemPercent    float64                   `json:"mem_percent"`
	Goroutines    int                       `json:"goroutines"`
	Databases     map[string]databaseHealth `json:"databases,omitempty"`
	LatestBarDate string                    `json:"latest_bar_date,omitempty"`
}

// HandleSystemHealth reports host load and storage state
// GET /api/system/health
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.systemStats()

	health := systemHealth{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		CPUPercent:    cpuPercent,
		MemPercent:    memPercent,
		Goroutines:    runtime.NumGoroutine(),
		Databases:     map[string]databaseHealth{},
	}

	if h.journalDB != nil {
		if stats, err := h.journalDB.GetStats(); err == nil {
			health.Databases[h.journalDB.Name()] = databaseHealth{
				SizeBytes:    stats.SizeBytes,
				WALSizeBytes: stats.WALSizeBytes,
			}
		} else {
			h.log.Warn().Err(err).Msg("Failed to read journal database stats")
		}
	}

	if h.bars != nil {
		if date, err := h.bars.LatestDate(); err == nil {
			health.LatestBarDate = date
		} else {
			h.log.Warn().Err(err).Msg("Failed to read latest bar date")
		}
	}

	h.writeJSON(w, health)
}

// systemStats samples CPU and RAM usage. The short CPU interval keeps the
// endpoint responsive for pollers.
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
