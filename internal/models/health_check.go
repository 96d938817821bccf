package models

import "time"

type HealthCheck struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	BatchPolicy string            `json:"batch_policy"`
	MaxArchives int               `json:"max_archives"`
}
