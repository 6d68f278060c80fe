package protocol

// HelloMsg is the first client message on the status feed.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	OwnerID         string `json:"owner_id,omitempty"`
	OwnerName       string `json:"owner_name,omitempty"`
}

type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	WorldID         string `json:"world_id"`
	TickRateHz      int    `json:"tick_rate_hz"`
}

// JobSummary is the read-only projection of a running job.
type JobSummary struct {
	ID           string  `json:"id"`
	OwnerID      string  `json:"owner_id"`
	OwnerName    string  `json:"owner_name"`
	World        string  `json:"world"`
	ChunkX       int     `json:"chunk_x"`
	ChunkZ       int     `json:"chunk_z"`
	TypeKey      string  `json:"type"`
	Percent      float64 `json:"percent"`
	ETASeconds   int64   `json:"eta_s"`
	RegionIndex  int     `json:"region_index"`
	CurrentLevel int     `json:"current_level"`
	StartedAt    int64   `json:"started_at"`
}

type StatusMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Page            int          `json:"page"`
	MaxPages        int          `json:"max_pages"`
	Jobs            []JobSummary `json:"jobs"`
}

// ProgressMsg is pushed after each completed work group of a job.
type ProgressMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	JobID           string  `json:"job_id"`
	Percent         float64 `json:"percent"`
	ETASeconds      int64   `json:"eta_s"`
}

// JobDoneMsg carries both natural completion and cancellation
// (TypeJobDone / TypeJobCancelled).
type JobDoneMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	JobID           string `json:"job_id"`
	OwnerName       string `json:"owner_name"`
}

type CreateJobMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	OwnerID         string `json:"owner_id"`
	OwnerName       string `json:"owner_name"`
	World           string `json:"world"`
	TypeKey         string `json:"type_key"`
	// Placement anchor in block space; the origin chunk is derived from it.
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type CancelJobMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Either a case-insensitive owner name, or a location inside the
	// origin chunk of the owner's job.
	OwnerName string `json:"owner_name,omitempty"`
	OwnerID   string `json:"owner_id,omitempty"`
	World     string `json:"world,omitempty"`
	X         int    `json:"x,omitempty"`
	Z         int    `json:"z,omitempty"`
}

type ListJobsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Page            int    `json:"page"`
	PageSize        int    `json:"page_size,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Detail          string `json:"detail,omitempty"`
}
