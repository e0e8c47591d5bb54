package models

import "time"

// Credential is one provider API credential pair.
type Credential struct {
	Key    string `json:"key"`
	Secret string `json:"-"`
}

// CredentialState tracks per-credential usage and health. usedToday
// resets when statDate rolls over; a blacklisted credential becomes
// available again once its expiry passes.
type CredentialState struct {
	Credential          Credential `json:"credential"`
	UsedToday           int        `json:"used_today"`
	DailyQuota          int        `json:"daily_quota"`
	StatDate            string     `json:"stat_date"`
	Blacklisted         bool       `json:"blacklisted"`
	BlacklistExpiry     time.Time  `json:"blacklist_expiry"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastUsed            time.Time  `json:"last_used"`
}

// MaskKey renders a credential key safe for logs, keeping only the
// first and last four characters.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
