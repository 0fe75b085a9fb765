package taskname

const (
	// Validation job tasks
	ValidationJobRun = "validation:job:run"

	// Campaign maintenance tasks
	CampaignExpireOverdue = "campaign:expire:overdue"
)
