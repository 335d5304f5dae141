package domain

// RowError attributes a recovered failure to a 1-based data row.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// UploadResult is returned for an upload that was accepted.
type UploadResult struct {
	Success          bool       `json:"success"`
	TotalRows        int        `json:"totalRows"`
	RecordsProcessed int        `json:"recordsProcessed"`
	Errors           []RowError `json:"errors,omitempty"`
	Message          string     `json:"message"`
}
