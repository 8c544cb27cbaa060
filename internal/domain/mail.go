package domain

type MailMessage struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Data any    `json:"data"`
}

type SyncFailureMailData struct {
	ManagerName string `json:"managerName"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	RetryCount  int    `json:"retryCount"`
	FailedAt    string `json:"failedAt"`
}
