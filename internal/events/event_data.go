package events

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// JobRunData contains data for JobStarted and JobCompleted events
type JobRunData struct {
	Job      string  `json:"job"`
	OK       bool    `json:"ok"`
	Duration float64 `json:"duration_seconds,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// EventType returns the event type for JobRunData
func (d *JobRunData) EventType() EventType {
	return JobCompleted
}

// DailyUpdatedData contains data for DailyUpdated events
type DailyUpdatedData struct {
	Symbol string `json:"symbol"`
	Rows   int    `json:"rows"`
}

// EventType returns the event type for DailyUpdatedData
func (d *DailyUpdatedData) EventType() EventType {
	return DailyUpdated
}

// ProviderHealthData contains data for ProviderUnhealthy events
type ProviderHealthData struct {
	Provider string `json:"provider"`
	Method   string `json:"method,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// EventType returns the event type for ProviderHealthData
func (d *ProviderHealthData) EventType() EventType {
	return ProviderUnhealthy
}

// BacktestCompletedData contains data for BacktestCompleted events
type BacktestCompletedData struct {
	ID        string  `json:"id"`
	StockCode string  `json:"stock_code"`
	Return    float64 `json:"total_return"`
}

// EventType returns the event type for BacktestCompletedData
func (d *BacktestCompletedData) EventType() EventType {
	return BacktestCompleted
}
