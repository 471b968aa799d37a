package models

// SourceError - ошибка обработки одного источника.
type SourceError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// UpsertCounts - число новых и обновлённых записей, посчитанное до upsert.
type UpsertCounts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// RunResult - итог одного запуска конвейера, возвращается вызывающему.
type RunResult struct {
	OK       bool          `json:"ok"`
	Sources  []string      `json:"sources"`
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Errors   []SourceError `json:"errors"`
}
