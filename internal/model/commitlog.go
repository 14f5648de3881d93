package model

// CommitLogEntry is one line of the log engine's commit log.
// Record holds the checksummed storage encoding of the full record.
type CommitLogEntry struct {
	Tenant     string `json:"tenant"`
	PrimaryKey string `json:"primary_key"`
	Version    int64  `json:"version"`
	Record     []byte `json:"record"`
	Timestamp  int64  `json:"ts"`
}
