package rediskey

import "fmt"

// Lock and sequence keys shared by every engine process.
const (
	KitLockPrefix      = "lock:kit"
	CampaignLockPrefix = "lock:campaign"
	JobLockPrefix      = "lock:validation_job"
	SequencePrefix     = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildKitLockKey returns "lock:kit:{campaignID}:{userID}".
// Kits are unique per campaign and user, so the pair is locked before the kit row exists.
func BuildKitLockKey(campaignID, userID string) string {
	return NamespaceKey(KitLockPrefix, campaignID+":"+userID)
}

// BuildCampaignLockKey returns "lock:campaign:{campaignID}", guarding order number uniqueness.
func BuildCampaignLockKey(campaignID string) string {
	return NamespaceKey(CampaignLockPrefix, campaignID)
}

// BuildJobLockKey returns "lock:validation_job:{jobID}".
func BuildJobLockKey(jobID string) string {
	return NamespaceKey(JobLockPrefix, jobID)
}

// BuildDailySequenceKey returns "seq:{prefix}:{yymmdd}".
func BuildDailySequenceKey(prefix, day string) string {
	return fmt.Sprintf("%s:%s:%s", SequencePrefix, prefix, day)
}
